package graphics

import (
	"errors"
	"fmt"

	"github.com/richinsley/darkroom/logging"
)

// Manager owns a Device for exactly one pipeline owner and turns driver
// level context loss and restoration into events.
type Manager struct {
	factory    DeviceFactory
	device     Device
	lost       bool
	disposed   bool
	generation int

	lostListeners     []func(reason string)
	restoredListeners []func()
}

// NewManager creates the device through factory.
func NewManager(factory DeviceFactory) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("graphics: nil device factory")
	}
	dev, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	info := dev.Info()
	logging.Logger().Info("graphics: device created",
		"device", info.Name,
		"float_targets", info.FloatTargets,
		"max_texture", info.MaxTextureSize,
	)
	return &Manager{factory: factory, device: dev, generation: 1}, nil
}

// Device returns the current device. It changes after Reinitialize.
func (m *Manager) Device() Device {
	return m.device
}

// Generation increments every time the device is recreated.
func (m *Manager) Generation() int {
	return m.generation
}

// Lost reports whether the context is currently lost.
func (m *Manager) Lost() bool {
	return m.lost
}

// OnLost registers a context loss listener.
func (m *Manager) OnLost(f func(reason string)) {
	m.lostListeners = append(m.lostListeners, f)
}

// OnRestored registers a listener fired after a successful reinitialization.
func (m *Manager) OnRestored(f func()) {
	m.restoredListeners = append(m.restoredListeners, f)
}

// NotifyLost records a context loss reported by the host or driver. Repeated
// notifications while already lost are ignored.
func (m *Manager) NotifyLost(reason string) {
	if m.disposed || m.lost {
		return
	}
	m.lost = true
	logging.Logger().Warn("graphics: context lost", "reason", reason, "generation", m.generation)
	for _, f := range m.lostListeners {
		f(reason)
	}
}

// Reinitialize releases the old device and creates a new one. On failure the
// manager stays lost and the old device is gone.
func (m *Manager) Reinitialize() error {
	if m.disposed {
		return ErrDeviceReleased
	}
	if m.device != nil {
		m.device.Release()
		m.device = nil
	}
	dev, err := m.factory()
	if err != nil {
		m.lost = true
		return fmt.Errorf("failed to recreate device: %w", err)
	}
	m.device = dev
	m.lost = false
	m.generation++
	logging.Logger().Info("graphics: context restored", "generation", m.generation)
	for _, f := range m.restoredListeners {
		f()
	}
	return nil
}

// Dispose releases the device exactly once.
func (m *Manager) Dispose() {
	if m.disposed {
		return
	}
	m.disposed = true
	if m.device != nil {
		m.device.Release()
		m.device = nil
	}
	m.lostListeners = nil
	m.restoredListeners = nil
}
