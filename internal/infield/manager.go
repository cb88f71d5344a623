package infield

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/session"
)

// Logger defines the logging interface used by the manager.
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

// Deps holds the collaborators of a Manager.
type Deps struct {
	Registry  *camera.Registry
	Lock      *camera.HardwareLock
	Detector  camera.Detector
	Corrector Corrector
	Events    events.Publisher
	Logger    Logger
}

// Manager owns the infield-correction sessions.
type Manager struct {
	store     *session.Store[Session]
	registry  *camera.Registry
	lock      *camera.HardwareLock
	detector  camera.Detector
	corrector Corrector
	events    events.Publisher
	logger    Logger
	now       func() time.Time
}

// NewManager creates a manager with no sessions.
func NewManager(deps Deps) *Manager {
	m := &Manager{
		store:     session.NewStore[Session](),
		registry:  deps.Registry,
		lock:      deps.Lock,
		detector:  deps.Detector,
		corrector: deps.Corrector,
		events:    deps.Events,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if m.events == nil {
		m.events = events.Discard{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Start connects the camera and opens a session with an empty dataset.
func (m *Manager) Start(ctx context.Context, serial string) (Session, error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return Session{}, err
	}
	dev, err := m.registry.Connected(ctx, serial)
	release()
	if err != nil {
		return Session{}, err
	}

	now := m.now().UTC()
	s := m.store.Create(func(id string) Session {
		return Session{
			ID:           id,
			SerialNumber: dev.Info().SerialNumber,
			Dataset:      []Input{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	})

	m.logger.Info("infield correction started", "session_id", s.ID, "serial_number", s.SerialNumber)
	m.events.Publish(ctx, events.Event{Type: events.InfieldStarted, SerialNumber: s.SerialNumber, SessionID: s.ID})
	return s, nil
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (Session, error) {
	return m.store.Get(id)
}

// List returns every session in creation order.
func (m *Manager) List() []Session {
	return m.store.List()
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	return m.store.Len()
}

// AddDataset captures the board, validates the capture as correction
// input and appends it. The returned estimate covers the whole dataset;
// nothing is written to the camera. A rejected capture fails with
// camera.ErrInvalidCapture and leaves the dataset unchanged.
func (m *Manager) AddDataset(ctx context.Context, id string) (Estimate, error) {
	var est Estimate
	s, err := m.store.Update(id, func(s Session) (Session, error) {
		in, err := m.capture(ctx, s.SerialNumber)
		if err != nil {
			return s, err
		}

		dataset := append(s.Dataset, in)
		acc, err := m.corrector.Estimate(ctx, dataset)
		if err != nil {
			return s, fmt.Errorf("estimating correction: %w", err)
		}

		s.Dataset = dataset
		s.DatasetSize = len(dataset)
		s.UpdatedAt = m.now().UTC()
		est = Estimate{
			DimensionAccuracy: acc.DimensionAccuracy,
			DatasetSize:       len(dataset),
			ZMin:              acc.ZMin,
			ZMax:              acc.ZMax,
		}
		return s, nil
	})
	if err != nil {
		return Estimate{}, err
	}

	m.logger.Info("infield dataset added",
		"session_id", s.ID,
		"dataset_size", est.DatasetSize,
		"dimension_accuracy", est.DimensionAccuracy,
		"z_min", est.ZMin,
		"z_max", est.ZMax,
	)
	m.events.Publish(ctx, events.Event{
		Type:         events.InfieldDatasetAdded,
		SerialNumber: s.SerialNumber,
		SessionID:    s.ID,
		Payload:      est,
		Fields: map[string]float64{
			"dataset_size":       float64(est.DatasetSize),
			"dimension_accuracy": est.DimensionAccuracy,
			"z_min":              est.ZMin,
			"z_max":              est.ZMax,
		},
	})
	return est, nil
}

// Commit writes the correction computed from the dataset to the camera and
// closes the session. If the write fails the session stays open for a
// retry.
func (m *Manager) Commit(ctx context.Context, id string) error {
	var committed Session
	err := m.store.Consume(id, func(s Session) error {
		if len(s.Dataset) == 0 {
			return ErrEmptyDataset
		}

		release, err := m.lock.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		dev, err := m.registry.Connected(ctx, s.SerialNumber)
		if err != nil {
			return err
		}
		if err := m.corrector.Write(ctx, dev, s.Dataset); err != nil {
			return m.registry.Fault(ctx, s.SerialNumber, fmt.Errorf("writing correction: %w", err))
		}
		committed = s
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("infield correction committed",
		"session_id", id,
		"serial_number", committed.SerialNumber,
		"dataset_size", len(committed.Dataset),
	)
	m.events.Publish(ctx, events.Event{
		Type:         events.InfieldCommitted,
		SerialNumber: committed.SerialNumber,
		SessionID:    id,
		Fields:       map[string]float64{"dataset_size": float64(len(committed.Dataset))},
	})
	return nil
}

// Delete abandons a session without touching the camera or waiting for a
// capture in progress on it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	s, err := m.store.Delete(id)
	if err != nil {
		return err
	}
	m.logger.Info("infield correction deleted", "session_id", id)
	m.events.Publish(ctx, events.Event{Type: events.InfieldDeleted, SerialNumber: s.SerialNumber, SessionID: id})
	return nil
}

// ReadLastCorrection reports the correction stored on the camera.
func (m *Manager) ReadLastCorrection(ctx context.Context, serial string) (CorrectionInfo, error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return CorrectionInfo{}, err
	}
	defer release()

	dev, err := m.registry.Connected(ctx, serial)
	if err != nil {
		return CorrectionInfo{}, err
	}
	info, err := m.corrector.Read(ctx, dev)
	if err != nil {
		return CorrectionInfo{}, m.registry.Fault(ctx, serial, fmt.Errorf("reading correction: %w", err))
	}
	return info, nil
}

// Reset removes any correction from the camera.
func (m *Manager) Reset(ctx context.Context, serial string) error {
	if err := m.reset(ctx, serial); err != nil {
		return err
	}
	m.logger.Info("infield correction reset", "serial_number", serial)
	m.events.Publish(ctx, events.Event{Type: events.InfieldReset, SerialNumber: serial})
	return nil
}

func (m *Manager) reset(ctx context.Context, serial string) error {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	dev, err := m.registry.Connected(ctx, serial)
	if err != nil {
		return err
	}
	if err := m.corrector.Reset(ctx, dev); err != nil {
		return m.registry.Fault(ctx, serial, fmt.Errorf("resetting correction: %w", err))
	}
	return nil
}

// Verify captures the board and checks the camera's current accuracy.
// Nothing is written to the camera.
func (m *Manager) Verify(ctx context.Context, serial string) (Verification, error) {
	in, err := m.capture(ctx, serial)
	if err != nil {
		return Verification{}, err
	}
	v, err := m.corrector.Verify(ctx, in)
	if err != nil {
		return Verification{}, fmt.Errorf("verifying camera: %w", err)
	}
	m.logger.Info("camera verified",
		"serial_number", serial,
		"local_dimension_trueness", v.LocalDimensionTrueness,
	)
	return v, nil
}

// capture detects the board under the hardware lock and wraps it as a
// correction input. Both the detection and the input must be valid.
func (m *Manager) capture(ctx context.Context, serial string) (Input, error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	dev, err := m.registry.Connected(ctx, serial)
	if err != nil {
		return nil, err
	}
	det, err := m.detector.Detect(ctx, dev)
	if err != nil {
		return nil, m.registry.Fault(ctx, serial, fmt.Errorf("detecting board: %w", err))
	}
	if !det.Valid() {
		return nil, fmt.Errorf("%w: %s", camera.ErrInvalidCapture, camera.Feedback(det))
	}

	in, err := m.corrector.NewInput(det)
	if err != nil {
		return nil, fmt.Errorf("building correction input: %w", err)
	}
	if !in.Valid() {
		msg := in.Feedback()
		if msg == "" {
			msg = "capture rejected as correction input"
		}
		return nil, fmt.Errorf("%w: %s", camera.ErrInvalidCapture, msg)
	}
	return in, nil
}
