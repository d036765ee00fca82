package shader

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bareComposer(cfg ComposerConfig) *Composer {
	cfg.NoBuiltins = true
	return NewComposer(cfg)
}

func TestComposeSubstitutesDepthFirst(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	require.NoError(t, c.Register("b", "float b() { return 1.0; }"))
	require.NoError(t, c.Register("a", "#include \"b\"\nfloat a() { return b(); }"))

	out, err := c.Compose("#include \"a\"\nvoid main() {}")
	require.NoError(t, err)
	assert.Equal(t, "float b() { return 1.0; }\nfloat a() { return b(); }\nvoid main() {}", out)
}

func TestComposeEmitsSharedModuleOnce(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	require.NoError(t, c.Register("common", "float common() { return 0.0; }"))
	require.NoError(t, c.Register("x", "#include \"common\"\nfloat x() { return common(); }"))
	require.NoError(t, c.Register("y", "#include \"common\"\nfloat y() { return common(); }"))

	out, err := c.Compose("#include \"x\"\n#include \"y\"\n")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "float common()"))
}

func TestComposeModuleNotFound(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	require.NoError(t, c.Register("a", "#include \"missing\""))

	_, err := c.Compose("#include \"a\"")
	require.ErrorIs(t, err, ErrModuleNotFound)
	assert.Contains(t, err.Error(), "missing")
	assert.Contains(t, err.Error(), `"a"`)
}

func TestComposeCircularDependency(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	require.NoError(t, c.Register("A", "#include \"B\"\nfloat a;"))
	require.NoError(t, c.Register("B", "#include \"A\"\nfloat b;"))

	_, err := c.Compose("#include \"A\"\nvoid main() {}")
	require.ErrorIs(t, err, ErrCircularDependency)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "B", "A"}, cycle.Chain)
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestComposeSelfInclude(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	require.NoError(t, c.Register("self", "#include \"self\""))

	_, err := c.Compose("#include \"self\"")
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestComposeCacheHits(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	require.NoError(t, c.Register("m", "float m;"))
	src := "#include \"m\"\nvoid main() {}"

	first, err := c.Compose(src)
	require.NoError(t, err)
	second, err := c.Compose(src)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	stats := c.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestComposeWithoutCache(t *testing.T) {
	c := bareComposer(ComposerConfig{})
	require.NoError(t, c.Register("m", "float m;"))

	for i := 0; i < 3; i++ {
		_, err := c.Compose("#include \"m\"")
		require.NoError(t, err)
	}
	assert.Equal(t, 0, c.Stats().Hits)
	assert.Equal(t, 3, c.Stats().Misses)
}

func TestRegisterInvalidatesCache(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	require.NoError(t, c.Register("m", "float m;"))
	src := "#include \"m\""
	_, err := c.Compose(src)
	require.NoError(t, err)

	require.NoError(t, c.Register("m", "int m;"))
	out, err := c.Compose(src)
	require.NoError(t, err)
	assert.Equal(t, "int m;", out)
	assert.Equal(t, 0, c.Stats().Hits)
}

func TestValidationRejectsMalformedInclude(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	_, err := c.Compose("#include <stdio>\nvoid main() {}")
	assert.ErrorIs(t, err, ErrUnresolvedInclude)

	lax := bareComposer(ComposerConfig{})
	_, err = lax.Compose("#include <stdio>\nvoid main() {}")
	assert.NoError(t, err)
}

func TestRegisterEmptyName(t *testing.T) {
	c := bareComposer(DefaultComposerConfig())
	assert.Error(t, c.Register("  ", "x"))
}

func TestBuiltinProgramsCompose(t *testing.T) {
	c := NewComposer(DefaultComposerConfig())
	for _, name := range ProgramNames() {
		src, err := FragmentSource(name)
		require.NoError(t, err, name)
		out, err := c.Compose(src)
		require.NoError(t, err, name)
		assert.True(t, strings.HasPrefix(out, "#version 300 es"), name)
		assert.NotContains(t, out, "#include", name)
	}
}

func TestFragmentSourceUnknown(t *testing.T) {
	_, err := FragmentSource("nope")
	assert.Error(t, err)
}
