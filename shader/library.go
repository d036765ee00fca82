package shader

// Built-in modules. Fragment programs are written in GLSL ES 3.00 and
// translated per driver at compile time.
var builtinModules = map[string]string{
	"preamble": `#version 300 es
precision highp float;
precision highp int;
in vec2 frag_uv;
out vec4 fragColor;
uniform sampler2D u_input0;
uniform vec2 u_resolution;
`,

	"colorspace": `vec3 srgb_to_linear(vec3 c) {
    bvec3 cutoff = lessThanEqual(c, vec3(0.04045));
    vec3 low  = c / 12.92;
    vec3 high = pow((max(c, vec3(0.0)) + 0.055) / 1.055, vec3(2.4));
    return mix(high, low, cutoff);
}

vec3 linear_to_srgb(vec3 l) {
    l = max(l, vec3(0.0));
    bvec3 cutoff = lessThanEqual(l, vec3(0.0031308));
    vec3 low  = l * 12.92;
    vec3 high = 1.055 * pow(l, vec3(1.0 / 2.4)) - 0.055;
    return mix(high, low, cutoff);
}
`,

	"luma": `float luma(vec3 c) {
    return dot(c, vec3(0.2126, 0.7152, 0.0722));
}
`,

	"hsv": `vec3 rgb2hsv(vec3 c) {
    vec4 K = vec4(0.0, -1.0 / 3.0, 2.0 / 3.0, -1.0);
    vec4 p = mix(vec4(c.bg, K.wz), vec4(c.gb, K.xy), step(c.b, c.g));
    vec4 q = mix(vec4(p.xyw, c.r), vec4(c.r, p.yzx), step(p.x, c.r));
    float d = q.x - min(q.w, q.y);
    float e = 1.0e-10;
    return vec3(abs(q.z + (q.w - q.y) / (6.0 * d + e)), d / (q.x + e), q.x);
}

vec3 hsv2rgb(vec3 c) {
    vec4 K = vec4(1.0, 2.0 / 3.0, 1.0 / 3.0, 3.0);
    vec3 p = abs(fract(c.xxx + K.xyz) * 6.0 - K.www);
    return c.z * mix(K.xxx, clamp(p - K.xxx, 0.0, 1.0), c.y);
}
`,

	"noise": `float hash12(vec2 p) {
    vec3 p3 = fract(vec3(p.xyx) * 0.1031);
    p3 += dot(p3, p3.yzx + 33.33);
    return fract((p3.x + p3.y) * p3.z);
}
`,

	"tonemap": `#include "luma"
const float TONEMAP_KNEE = 0.8;

vec3 tonemap_clip(vec3 c) {
    return clamp(c, 0.0, 1.0);
}

// identity below the knee, rational roll-off to 1.0 above it
vec3 tonemap_filmic(vec3 c) {
    vec3 t = max(c - TONEMAP_KNEE, vec3(0.0)) / (1.0 - TONEMAP_KNEE);
    vec3 rolled = TONEMAP_KNEE + (1.0 - TONEMAP_KNEE) * (t / (1.0 + t));
    return clamp(mix(c, rolled, step(TONEMAP_KNEE, c)), 0.0, 1.0);
}

vec3 tonemap(vec3 c, int mode) {
    if (mode == 1) {
        return tonemap_filmic(c);
    }
    return tonemap_clip(c);
}
`,

	"bayer": `float bayer4(ivec2 p) {
    int m[16] = int[16](0, 8, 2, 10, 12, 4, 14, 6, 3, 11, 1, 9, 15, 7, 13, 5);
    int i = (p.y & 3) * 4 + (p.x & 3);
    return (float(m[i]) + 0.5) / 16.0 - 0.5;
}
`,

	"gaussian": `const int MAX_BLUR_TAPS = 32;

float gaussian(float x, float sigma) {
    return exp(-(x * x) / (2.0 * sigma * sigma));
}
`,
}

// BuiltinModules returns the names of the built-in modules.
func BuiltinModules() []string {
	names := make([]string, 0, len(builtinModules))
	for name := range builtinModules {
		names = append(names, name)
	}
	return names
}
