package renderer

import (
	"crypto/sha256"
	"fmt"

	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/shader"
)

type program struct {
	name     string
	id       graphics.ProgramID
	bindings graphics.Bindings
}

// ProgramStats counts program cache lookups.
type ProgramStats struct {
	Hits     int
	Misses   int
	Programs int
	Failed   int
}

// ProgramCache composes, compiles and links programs once per distinct
// source. Entries are keyed by a hash of the composed source, so two names
// sharing a source share a program.
type ProgramCache struct {
	device   graphics.Device
	composer *shader.Composer

	byKey  map[[sha256.Size]byte]*program
	byName map[string]*program
	failed map[string]error

	hits   int
	misses int
}

// NewProgramCache returns an empty cache compiling on device.
func NewProgramCache(device graphics.Device, composer *shader.Composer) *ProgramCache {
	return &ProgramCache{
		device:   device,
		composer: composer,
		byKey:    make(map[[sha256.Size]byte]*program),
		byName:   make(map[string]*program),
		failed:   make(map[string]error),
	}
}

// Compile composes fragment and links it under name. Composition failures
// are reported as graphics.ErrShader.
func (c *ProgramCache) Compile(name, fragment string) (graphics.ProgramID, graphics.Bindings, error) {
	composed, err := c.composer.Compose(fragment)
	if err != nil {
		err = fmt.Errorf("%w: composing %s: %w", graphics.ErrShader, name, err)
		c.failed[name] = err
		return 0, graphics.Bindings{}, err
	}
	key := sha256.Sum256([]byte(name + "\x00" + composed))
	if p, ok := c.byKey[key]; ok {
		c.hits++
		c.byName[name] = p
		delete(c.failed, name)
		return p.id, p.bindings, nil
	}
	c.misses++

	id, bindings, err := c.device.CompileProgram(graphics.ProgramSource{Name: name, Fragment: composed})
	if err != nil {
		err = fmt.Errorf("failed to create shader program %s: %w", name, err)
		c.failed[name] = err
		return 0, graphics.Bindings{}, err
	}
	p := &program{name: name, id: id, bindings: bindings}
	c.byKey[key] = p
	c.byName[name] = p
	delete(c.failed, name)
	logging.Logger().Debug("renderer: program linked", "program", name, "uniforms", len(bindings.Uniforms))
	return id, bindings, nil
}

// CompileBuiltins compiles every built-in program. Failures are recorded
// and returned; programs that did compile stay usable.
func (c *ProgramCache) CompileBuiltins() []error {
	var errs []error
	for _, name := range shader.ProgramNames() {
		src, err := shader.FragmentSource(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, _, err := c.Compile(name, src); err != nil {
			logging.Logger().Error("renderer: program failed", "program", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}

// lookup returns the program compiled under name. When it is missing the
// error wraps ErrMissingProgram and, if known, the compile failure.
func (c *ProgramCache) lookup(name string) (*program, error) {
	if p, ok := c.byName[name]; ok {
		return p, nil
	}
	if cause, ok := c.failed[name]; ok {
		return nil, fmt.Errorf("%w %q: %w", ErrMissingProgram, name, cause)
	}
	return nil, fmt.Errorf("%w %q", ErrMissingProgram, name)
}

// Stats returns cache counters.
func (c *ProgramCache) Stats() ProgramStats {
	return ProgramStats{Hits: c.hits, Misses: c.misses, Programs: len(c.byKey), Failed: len(c.failed)}
}

// Reset forgets every handle and retargets the cache at device. The old
// device is assumed gone.
func (c *ProgramCache) Reset(device graphics.Device) {
	c.device = device
	clear(c.byKey)
	clear(c.byName)
	clear(c.failed)
}

// Dispose deletes every program.
func (c *ProgramCache) Dispose() {
	for _, p := range c.byKey {
		c.device.DeleteProgram(p.id)
	}
	clear(c.byKey)
	clear(c.byName)
}
