package options

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchComponents(t *testing.T) {
	o := Default()
	require.NoError(t, o.Validate())

	p := o.Pipeline()
	assert.Equal(t, 2048, p.PreviewMaxDimension)
	assert.Equal(t, shader.ToneMapClip, p.ToneMapper)
	assert.Equal(t, graphics.FormatRGBA16F, p.Format)
	assert.Equal(t, 16*time.Millisecond, p.Scheduler.BatchDelay)
	assert.Equal(t, 16, p.Pool.Capacity)

	f := o.FallbackConfig()
	assert.True(t, f.AllowFallback)
	assert.Equal(t, 3, f.RetryBudget)
	assert.Equal(t, 1024, f.FallbackPreviewMaxDimension)

	e := o.ExportOptions()
	assert.True(t, e.Dither)
	assert.Equal(t, 10*time.Second, e.FenceTimeout)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	o, err := Load(strings.NewReader(`
[preview]
max_dimension = 1600
tone_mapper = "filmic"

[scheduler]
batch_delay = "40ms"

[recovery]
allow_fallback = false
settle_delay = "1s"
`))
	require.NoError(t, err)

	assert.Equal(t, 1600, o.Pipeline().PreviewMaxDimension)
	assert.Equal(t, shader.ToneMapFilmic, o.Pipeline().ToneMapper)
	assert.Equal(t, 40*time.Millisecond, o.SchedulerConfig().BatchDelay)
	assert.Equal(t, 30.0, o.SchedulerConfig().MinFPS)
	assert.False(t, o.FallbackConfig().AllowFallback)
	assert.Equal(t, time.Second, o.FallbackConfig().SettleDelay)
	assert.Equal(t, 1280, o.Window.Width)
}

func TestLoadRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":  "[preview]\nsize = 3\n",
		"bad duration": "[pool]\nidle_ttl = \"soon\"\n",
		"tone mapper":  "[preview]\ntone_mapper = \"aces\"\n",
		"format":       "[preview]\nformat = \"rgb565\"\n",
		"dither":       "[export]\ndither_strength = 9.0\n",
	} {
		_, err := Load(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	o := Default()
	o.Pool.IdleTTL = Duration(90 * time.Second)
	b, err := Marshal(o)
	require.NoError(t, err)
	assert.Contains(t, string(b), "1m30s")

	back, err := Load(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, o, back)
}

func TestLoadFileMissing(t *testing.T) {
	o, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), o)
}
