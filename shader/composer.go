package shader

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModuleNotFound is returned when an include names an unregistered module.
	ErrModuleNotFound = errors.New("shader: module not found")
	// ErrCircularDependency is returned when modules include each other.
	ErrCircularDependency = errors.New("shader: circular dependency")
	// ErrUnresolvedInclude is returned by validation when an include
	// directive survives composition.
	ErrUnresolvedInclude = errors.New("shader: unresolved include")
)

// CycleError names the include chain that closed a cycle, first module
// repeated at the end.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("shader: circular dependency: %s", strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCircularDependency
}

const includeDirective = "#include"

// ComposerConfig configures a Composer.
type ComposerConfig struct {
	// Cache memoizes fully resolved output keyed by the input source.
	Cache bool
	// Validate rescans composed output for leftover include directives.
	Validate bool
	// NoBuiltins skips registering the built-in module library.
	NoBuiltins bool
}

// DefaultComposerConfig enables caching and validation.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{Cache: true, Validate: true}
}

// CacheStats reports composer cache effectiveness.
type CacheStats struct {
	Hits    int
	Misses  int
	Entries int
}

// Composer resolves `#include "name"` directives against a registry of
// named source modules.
type Composer struct {
	cfg     ComposerConfig
	modules map[string]string
	cache   map[string]string
	hits    int
	misses  int
}

// NewComposer creates a composer holding the built-in library unless
// cfg.NoBuiltins is set.
func NewComposer(cfg ComposerConfig) *Composer {
	c := &Composer{
		cfg:     cfg,
		modules: make(map[string]string),
		cache:   make(map[string]string),
	}
	if !cfg.NoBuiltins {
		for name, src := range builtinModules {
			c.modules[name] = src
		}
	}
	return c
}

// Register adds or replaces a module. Replacing a module drops the cache.
func (c *Composer) Register(name, source string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("shader: empty module name")
	}
	if _, exists := c.modules[name]; exists {
		clear(c.cache)
	}
	c.modules[name] = source
	return nil
}

// Has reports whether a module is registered.
func (c *Composer) Has(name string) bool {
	_, ok := c.modules[name]
	return ok
}

// Stats returns cache counters.
func (c *Composer) Stats() CacheStats {
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.cache)}
}

// Compose substitutes includes depth first. A module included more than
// once in one composition is emitted at its first include only.
func (c *Composer) Compose(source string) (string, error) {
	if c.cfg.Cache {
		if out, ok := c.cache[source]; ok {
			c.hits++
			return out, nil
		}
	}
	c.misses++

	r := &resolver{modules: c.modules, done: make(map[string]bool)}
	out, err := r.expand(source)
	if err != nil {
		return "", err
	}
	if c.cfg.Validate {
		if err := validate(out); err != nil {
			return "", err
		}
	}
	if c.cfg.Cache {
		c.cache[source] = out
	}
	return out, nil
}

type resolver struct {
	modules map[string]string
	stack   []string
	done    map[string]bool
}

func (r *resolver) expand(text string) (string, error) {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for i, line := range lines {
		name, ok := parseInclude(line)
		if !ok {
			b.WriteString(line)
		} else {
			body, err := r.include(name)
			if err != nil {
				return "", err
			}
			b.WriteString(strings.TrimSuffix(body, "\n"))
		}
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func (r *resolver) include(name string) (string, error) {
	for i, s := range r.stack {
		if s == name {
			chain := append(append([]string{}, r.stack[i:]...), name)
			return "", &CycleError{Chain: chain}
		}
	}
	if r.done[name] {
		return "", nil
	}
	src, ok := r.modules[name]
	if !ok {
		if len(r.stack) > 0 {
			return "", fmt.Errorf("%w: %q (included from %q)", ErrModuleNotFound, name, r.stack[len(r.stack)-1])
		}
		return "", fmt.Errorf("%w: %q", ErrModuleNotFound, name)
	}
	r.stack = append(r.stack, name)
	body, err := r.expand(src)
	r.stack = r.stack[:len(r.stack)-1]
	if err != nil {
		return "", err
	}
	r.done[name] = true
	return body, nil
}

// parseInclude recognizes `#include "name"` lines.
func parseInclude(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, includeDirective) {
		return "", false
	}
	s = strings.TrimSpace(s[len(includeDirective):])
	if len(s) < 2 || s[0] != '"' {
		return "", false
	}
	end := strings.IndexByte(s[1:], '"')
	if end < 0 {
		return "", false
	}
	if strings.TrimSpace(s[end+2:]) != "" {
		return "", false
	}
	return s[1 : end+1], true
}

func validate(out string) error {
	for n, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), includeDirective) {
			return fmt.Errorf("%w at line %d: %s", ErrUnresolvedInclude, n+1, strings.TrimSpace(line))
		}
	}
	return nil
}
