package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-vision/internal/events"
)

// Logger defines the logging interface used by the camera package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches device handles by serial number. It never hands out a
// handle it could not connect: a camera that fails to connect is evicted
// and reported as ErrNotFound, and the next lookup re-enumerates.
//
// Every method except Len and Serials talks to the driver and must be
// called with the HardwareLock held. Events go out through the publisher
// as they happen; wrap it with HardwareLock.Deferred to hold them until
// the lock is released.
type Registry struct {
	driver  Driver
	mu      sync.Mutex
	devices map[string]Device
	logger  Logger
	events  events.Publisher
}

// NewRegistry creates an empty registry over driver.
func NewRegistry(driver Driver) *Registry {
	return &Registry{
		driver:  driver,
		devices: make(map[string]Device),
		logger:  noopLogger{},
		events:  events.Discard{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher sets where eviction events go.
func (r *Registry) SetPublisher(p events.Publisher) {
	r.events = p
}

// List refreshes the cache and returns every cached handle ordered by
// serial number. Refreshing drops handles that are no longer connected,
// enumerates visible cameras and caches any serial not already present.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Info().SerialNumber < devices[j].Info().SerialNumber
	})
	return devices, nil
}

// Lookup returns the cached handle for serial without connecting it,
// refreshing the cache once if serial is unknown.
func (r *Registry) Lookup(ctx context.Context, serial string) (Device, error) {
	if dev, ok := r.cached(serial); ok {
		return dev, nil
	}
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	if dev, ok := r.cached(serial); ok {
		return dev, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, serial)
}

// Connected returns a connected handle for serial. An unknown serial
// triggers one refresh; a known handle that fails to connect is evicted
// and reported as ErrNotFound. A connect cut short by ctx keeps the handle
// and fails with ErrHardwareBusy.
func (r *Registry) Connected(ctx context.Context, serial string) (Device, error) {
	dev, err := r.Lookup(ctx, serial)
	if err != nil {
		return nil, err
	}
	if dev.Connected() {
		return dev, nil
	}

	if err := dev.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connecting %s: %w", ErrHardwareBusy, serial, err)
		}
		r.evict(ctx, serial, err)
		return nil, fmt.Errorf("%w: %s can no longer connect: %w", ErrNotFound, serial, err)
	}
	r.logger.Info("camera connected", "serial_number", serial)
	return dev, nil
}

// Disconnect disconnects serial if it is connected. The handle stays
// cached and reconnects on next use.
func (r *Registry) Disconnect(ctx context.Context, serial string) error {
	dev, err := r.Lookup(ctx, serial)
	if err != nil {
		return err
	}
	if !dev.Connected() {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		return r.Fault(ctx, serial, err)
	}
	r.logger.Info("camera disconnected", "serial_number", serial)
	r.events.Publish(ctx, events.Event{Type: events.CameraDisconnected, SerialNumber: serial})
	return nil
}

// Fault evicts serial after a failed device command and returns cause
// wrapped in ErrHardwareFault. Taxonomy errors that say nothing about the
// device's health are returned unchanged and the handle is kept.
func (r *Registry) Fault(ctx context.Context, serial string, cause error) error {
	if errors.Is(cause, ErrInvalidCapture) || errors.Is(cause, ErrHardwareBusy) ||
		errors.Is(cause, ErrInvalidArgument) {
		return cause
	}
	r.evict(ctx, serial, cause)
	return fmt.Errorf("%w: %s: %w", ErrHardwareFault, serial, cause)
}

// Forget drops serial from the cache without touching the device, e.g.
// after a firmware update invalidated the handle.
func (r *Registry) Forget(serial string) {
	r.mu.Lock()
	delete(r.devices, serial)
	r.mu.Unlock()
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Serials returns the cached serial numbers, sorted.
func (r *Registry) Serials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	serials := make([]string, 0, len(r.devices))
	for s := range r.devices {
		serials = append(serials, s)
	}
	sort.Strings(serials)
	return serials
}

// DriverVersion reports the vendor SDK version.
func (r *Registry) DriverVersion() string {
	return r.driver.Version()
}

func (r *Registry) cached(serial string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[serial]
	return dev, ok
}

func (r *Registry) refresh(ctx context.Context) error {
	r.mu.Lock()
	for serial, dev := range r.devices {
		if !dev.Connected() {
			delete(r.devices, serial)
		}
	}
	r.mu.Unlock()

	visible, err := r.driver.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("%w: enumerating cameras: %w", ErrHardwareFault, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, dev := range visible {
		serial := dev.Info().SerialNumber
		if _, ok := r.devices[serial]; !ok {
			r.devices[serial] = dev
			added++
		}
	}
	r.logger.Debug("camera cache refreshed", "visible", len(visible), "added", added, "cached", len(r.devices))
	return nil
}

func (r *Registry) evict(ctx context.Context, serial string, cause error) {
	r.mu.Lock()
	delete(r.devices, serial)
	r.mu.Unlock()

	r.logger.Warn("camera evicted", "serial_number", serial, "error", cause)
	r.events.Publish(ctx, events.Event{
		Type:         events.CameraEvicted,
		SerialNumber: serial,
		Payload:      map[string]string{"reason": cause.Error()},
	})
}
