package projection

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/events"
)

// Handle is a running projection.
type Handle interface {
	Stop() error
}

// Projector is the vendor projection API.
type Projector interface {
	Resolution(ctx context.Context, dev camera.Device) (Resolution, error)
	Show(ctx context.Context, dev camera.Device, img *image.RGBA) (Handle, error)
}

// Logger defines the logging interface used by the manager.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Deps holds the collaborators of a Manager.
type Deps struct {
	Registry  *camera.Registry
	Lock      *camera.HardwareLock
	Projector Projector
	Patterns  *Patterns
	Events    events.Publisher
	Logger    Logger
}

// Manager keeps at most one running projection per camera.
type Manager struct {
	registry  *camera.Registry
	lock      *camera.HardwareLock
	projector Projector
	patterns  *Patterns
	events    events.Publisher
	logger    Logger

	mu      sync.Mutex
	handles map[string]Handle
}

// NewManager creates a manager with no projections.
func NewManager(deps Deps) *Manager {
	m := &Manager{
		registry:  deps.Registry,
		lock:      deps.Lock,
		projector: deps.Projector,
		patterns:  deps.Patterns,
		events:    deps.Events,
		logger:    deps.Logger,
		handles:   make(map[string]Handle),
	}
	if m.patterns == nil {
		m.patterns = NewPatterns()
	}
	if m.events == nil {
		m.events = events.Discard{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Start projects the test pattern on serial, stopping any projection
// already running there first. A failure to stop the old projection is
// logged and the old handle discarded.
func (m *Manager) Start(ctx context.Context, serial string) (Resolution, error) {
	res, stopped, err := m.start(ctx, serial)
	if stopped {
		m.publishStopped(ctx, serial)
	}
	if err != nil {
		return Resolution{}, err
	}
	m.events.Publish(ctx, events.Event{
		Type:         events.ProjectionStarted,
		SerialNumber: serial,
		Payload:      res,
	})
	return res, nil
}

func (m *Manager) start(ctx context.Context, serial string) (res Resolution, stopped bool, err error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return Resolution{}, false, err
	}
	defer release()

	stopped = m.stopLocked(serial)

	dev, err := m.registry.Connected(ctx, serial)
	if err != nil {
		return Resolution{}, stopped, err
	}
	res, err = m.projector.Resolution(ctx, dev)
	if err != nil {
		return Resolution{}, stopped, m.registry.Fault(ctx, serial, fmt.Errorf("reading projector resolution: %w", err))
	}
	m.logger.Info("projector resolution", "serial_number", serial, "resolution", res.String())

	img, err := m.patterns.Lookup(res)
	if err != nil {
		return Resolution{}, stopped, err
	}
	h, err := m.projector.Show(ctx, dev, img)
	if err != nil {
		return Resolution{}, stopped, m.registry.Fault(ctx, serial, fmt.Errorf("starting projection: %w", err))
	}

	m.mu.Lock()
	m.handles[serial] = h
	m.mu.Unlock()
	return res, stopped, nil
}

// Stop ends the projection on serial. It is a no-op if none is running.
func (m *Manager) Stop(ctx context.Context, serial string) error {
	if !m.Active(serial) {
		return nil
	}

	stopped, err := m.stop(ctx, serial)
	if err != nil {
		return err
	}
	if stopped {
		m.publishStopped(ctx, serial)
	}
	return nil
}

func (m *Manager) stop(ctx context.Context, serial string) (bool, error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	m.mu.Lock()
	h, ok := m.handles[serial]
	delete(m.handles, serial)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	m.logger.Info("stopping projection", "serial_number", serial)
	if err := h.Stop(); err != nil {
		return false, m.registry.Fault(ctx, serial, fmt.Errorf("stopping projection: %w", err))
	}
	return true, nil
}

// StopAll ends every projection, logging failures. Used at shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		m.logger.Warn("stopping projections", "error", err)
		return
	}
	var stopped []string
	for _, serial := range m.Serials() {
		if m.stopLocked(serial) {
			stopped = append(stopped, serial)
		}
	}
	release()

	for _, serial := range stopped {
		m.publishStopped(ctx, serial)
	}
}

// Active reports whether serial has a running projection.
func (m *Manager) Active(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[serial]
	return ok
}

// Serials lists the cameras with a running projection.
func (m *Manager) Serials() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handles))
	for s := range m.handles {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// stopLocked stops and discards the handle for serial, logging failures.
// It reports whether a projection was stopped cleanly. The caller holds
// the hardware lock.
func (m *Manager) stopLocked(serial string) bool {
	m.mu.Lock()
	h, ok := m.handles[serial]
	delete(m.handles, serial)
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.logger.Info("stopping projection", "serial_number", serial)
	if err := h.Stop(); err != nil {
		m.logger.Warn("stopping previous projection failed", "serial_number", serial, "error", err)
		return false
	}
	return true
}

func (m *Manager) publishStopped(ctx context.Context, serial string) {
	m.events.Publish(ctx, events.Event{Type: events.ProjectionStopped, SerialNumber: serial})
}
