package shader

import "fmt"

// Program names. Devices without a GLSL compiler dispatch on these.
const (
	ProgramGeometry = "geometry"
	ProgramTonal    = "tonal"
	ProgramColor    = "color"
	ProgramChannel  = "channel"
	ProgramBlur     = "blur"
	ProgramClarity  = "clarity"
	ProgramDetail   = "detail"
	ProgramEffects  = "effects"
	ProgramOutput   = "output"
	ProgramDither   = "dither"
)

// Tone mapper modes understood by the output program (u_tonemap).
const (
	ToneMapClip   = 0
	ToneMapFilmic = 1
)

var programSources = map[string]string{
	// Geometry runs on the encoded source: crop, rotation about the crop
	// center and flips, all as an inverse uv mapping.
	ProgramGeometry: `#include "preamble"
uniform vec4  u_crop;     // x, y, w, h in texture space
uniform float u_rotation; // radians
uniform vec2  u_flip;     // 1.0 flips the axis
uniform float u_aspect;   // output width / height

void main() {
    vec2 uv = frag_uv;
    uv = mix(uv, 1.0 - uv, u_flip);
    vec2 p = (uv - 0.5) * vec2(u_aspect, 1.0);
    float s = sin(-u_rotation);
    float c = cos(-u_rotation);
    p = vec2(c * p.x - s * p.y, s * p.x + c * p.y);
    uv = p / vec2(u_aspect, 1.0) + 0.5;
    vec2 src = u_crop.xy + uv * u_crop.zw;
    if (any(lessThan(src, vec2(0.0))) || any(greaterThan(src, vec2(1.0)))) {
        fragColor = vec4(0.0, 0.0, 0.0, 1.0);
        return;
    }
    fragColor = texture(u_input0, src);
}
`,

	ProgramTonal: `#include "preamble"
#include "colorspace"
#include "luma"
uniform float u_exposure;
uniform float u_contrast;
uniform float u_highlights;
uniform float u_shadows;
uniform float u_whites;
uniform float u_blacks;
uniform vec4  u_curve; // shadows, darks, lights, highlights

float bump(float x, float center) {
    return 0.25 * max(0.0, 1.0 - abs(x - center) * 4.0);
}

void main() {
    vec4 src = texture(u_input0, frag_uv);
    vec3 c = srgb_to_linear(src.rgb);
    c *= exp2(u_exposure);
    c = (c + u_blacks * 0.05) * (1.0 + u_whites * 0.25);
    float l = luma(max(c, vec3(0.0)));
    float ws = 1.0 - smoothstep(0.0, 0.5, l);
    float wh = smoothstep(0.5, 1.0, l);
    c *= exp2(u_shadows * ws + u_highlights * wh);
    c = 0.18 * pow(max(c, vec3(0.0)) / 0.18, vec3(1.0 + u_contrast));
    if (u_curve != vec4(0.0)) {
        vec3 e = linear_to_srgb(c);
        for (int i = 0; i < 3; i++) {
            e[i] += u_curve.x * bump(e[i], 0.125) + u_curve.y * bump(e[i], 0.375)
                  + u_curve.z * bump(e[i], 0.625) + u_curve.w * bump(e[i], 0.875);
        }
        c = srgb_to_linear(e);
    }
    fragColor = vec4(c, src.a);
}
`,

	ProgramColor: `#include "preamble"
#include "luma"
uniform float u_temperature;
uniform float u_tint;
uniform float u_vibrance;
uniform float u_saturation;

void main() {
    vec4 src = texture(u_input0, frag_uv);
    vec3 c = src.rgb * vec3(1.0 + u_temperature * 0.2, 1.0 - u_tint * 0.2, 1.0 - u_temperature * 0.2);
    float l = luma(c);
    float sat = max(c.r, max(c.g, c.b)) - min(c.r, min(c.g, c.b));
    c = l + (c - l) * (1.0 + u_vibrance * (1.0 - clamp(sat, 0.0, 1.0)));
    c = l + (c - l) * (1.0 + u_saturation);
    fragColor = vec4(c, src.a);
}
`,

	ProgramChannel: `#include "preamble"
#include "hsv"
uniform vec3 u_hsl0;
uniform vec3 u_hsl1;
uniform vec3 u_hsl2;
uniform vec3 u_hsl3;
uniform vec3 u_hsl4;
uniform vec3 u_hsl5;
uniform vec3 u_hsl6;
uniform vec3 u_hsl7;
uniform float u_hsl_active;

const float CENTERS[8] = float[8](0.0, 30.0, 60.0, 120.0, 180.0, 240.0, 270.0, 300.0);

void main() {
    vec4 src = texture(u_input0, frag_uv);
    if (u_hsl_active < 0.5) {
        fragColor = src;
        return;
    }
    vec3 bands[8] = vec3[8](u_hsl0, u_hsl1, u_hsl2, u_hsl3, u_hsl4, u_hsl5, u_hsl6, u_hsl7);
    vec3 hsv = rgb2hsv(max(src.rgb, vec3(0.0)));
    float hue = hsv.x * 360.0;
    vec3 shift = vec3(0.0);
    for (int i = 0; i < 8; i++) {
        float d = abs(mod(hue - CENTERS[i] + 180.0, 360.0) - 180.0);
        shift += bands[i] * max(0.0, 1.0 - d / 45.0);
    }
    hsv.x = fract(hsv.x + shift.x / 360.0);
    hsv.y = clamp(hsv.y * (1.0 + shift.y), 0.0, 1.0);
    hsv.z = hsv.z * exp2(shift.z);
    fragColor = vec4(hsv2rgb(hsv), src.a);
}
`,

	ProgramBlur: `#include "preamble"
#include "gaussian"
uniform vec2  u_direction; // one texel along the blur axis
uniform float u_radius;

void main() {
    float sigma = max(u_radius * 0.5, 0.5);
    int taps = min(int(ceil(u_radius)), MAX_BLUR_TAPS);
    vec4 sum = texture(u_input0, frag_uv);
    float total = 1.0;
    for (int i = 1; i <= MAX_BLUR_TAPS; i++) {
        if (i > taps) {
            break;
        }
        float w = gaussian(float(i), sigma);
        sum += w * texture(u_input0, frag_uv + u_direction * float(i));
        sum += w * texture(u_input0, frag_uv - u_direction * float(i));
        total += 2.0 * w;
    }
    fragColor = sum / total;
}
`,

	// Clarity composites the original (u_input0) with its large-radius blur
	// (u_input1), boosting local contrast in the midtones.
	ProgramClarity: `#include "preamble"
#include "luma"
uniform sampler2D u_input1;
uniform float u_amount;

void main() {
    vec4 orig = texture(u_input0, frag_uv);
    vec4 blurred = texture(u_input1, frag_uv);
    float l = clamp(luma(orig.rgb), 0.0, 1.0);
    float mid = 4.0 * l * (1.0 - l);
    vec3 c = orig.rgb + (orig.rgb - blurred.rgb) * u_amount * mid;
    fragColor = vec4(c, orig.a);
}
`,

	ProgramDetail: `#include "preamble"
uniform vec2  u_texel;
uniform float u_sharpness;
uniform float u_noise_reduction;

void main() {
    vec4 c = texture(u_input0, frag_uv);
    vec3 mean = vec3(0.0);
    for (int y = -1; y <= 1; y++) {
        for (int x = -1; x <= 1; x++) {
            mean += texture(u_input0, frag_uv + vec2(x, y) * u_texel).rgb;
        }
    }
    mean /= 9.0;
    vec3 o = c.rgb + (c.rgb - mean) * u_sharpness;
    o = mix(o, mean, u_noise_reduction);
    fragColor = vec4(o, c.a);
}
`,

	ProgramEffects: `#include "preamble"
#include "noise"
uniform vec4  u_vignette; // amount, midpoint, feather, roundness
uniform vec3  u_grain;    // amount, size, seed
uniform float u_aspect;

void main() {
    vec4 src = texture(u_input0, frag_uv);
    vec3 c = src.rgb;
    if (u_vignette.x != 0.0) {
        vec2 p = (frag_uv - 0.5) * 2.0;
        p.x *= mix(u_aspect, 1.0, u_vignette.w);
        float r = length(p);
        float fall = smoothstep(u_vignette.y, u_vignette.y + max(u_vignette.z, 1.0e-3), r);
        c *= 1.0 + u_vignette.x * fall;
    }
    if (u_grain.x != 0.0) {
        vec2 cell = floor(gl_FragCoord.xy / max(u_grain.y, 1.0));
        float n = hash12(cell + u_grain.z) - 0.5;
        c += n * u_grain.x * 0.1;
    }
    fragColor = vec4(c, src.a);
}
`,

	ProgramOutput: `#include "preamble"
#include "colorspace"
#include "tonemap"
uniform int   u_tonemap;
uniform float u_gamma;

void main() {
    vec4 src = texture(u_input0, frag_uv);
    vec3 c = tonemap(src.rgb, u_tonemap);
    c = pow(c, vec3(1.0 / max(u_gamma, 1.0e-3)));
    fragColor = vec4(clamp(linear_to_srgb(c), 0.0, 1.0), src.a);
}
`,

	ProgramDither: `#include "preamble"
#include "bayer"
uniform float u_strength;

void main() {
    vec4 src = texture(u_input0, frag_uv);
    float t = bayer4(ivec2(gl_FragCoord.xy)) * u_strength / 255.0;
    fragColor = vec4(clamp(src.rgb + t, 0.0, 1.0), src.a);
}
`,
}

// ProgramNames lists every built-in program.
func ProgramNames() []string {
	return []string{
		ProgramGeometry, ProgramTonal, ProgramColor, ProgramChannel, ProgramBlur,
		ProgramClarity, ProgramDetail, ProgramEffects, ProgramOutput, ProgramDither,
	}
}

// FragmentSource returns the uncomposed fragment source of a built-in program.
func FragmentSource(name string) (string, error) {
	src, ok := programSources[name]
	if !ok {
		return "", fmt.Errorf("shader: unknown program %q", name)
	}
	return src, nil
}
