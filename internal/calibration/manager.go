package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/pose"
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
	Registry *camera.Registry
	Lock     *camera.HardwareLock
	Detector camera.Detector
	Solver   Solver
	Events   events.Publisher
	Logger   Logger
}

// Manager owns the calibration sessions. Mutations of one session are
// serialised; different sessions proceed independently up to the
// hardware lock.
type Manager struct {
	store    *session.Store[Session]
	registry *camera.Registry
	lock     *camera.HardwareLock
	detector camera.Detector
	solver   Solver
	events   events.Publisher
	logger   Logger
	now      func() time.Time
}

// NewManager creates a manager with no sessions.
func NewManager(deps Deps) *Manager {
	m := &Manager{
		store:    session.NewStore[Session](),
		registry: deps.Registry,
		lock:     deps.Lock,
		detector: deps.Detector,
		solver:   deps.Solver,
		events:   deps.Events,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if m.events == nil {
		m.events = events.Discard{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Start connects the camera and opens an empty session for it.
func (m *Manager) Start(ctx context.Context, serial string, mode Mode) (Session, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return Session{}, err
	}
	if mode == "" {
		mode = EyeInHand
	}

	info, err := m.connected(ctx, serial)
	if err != nil {
		return Session{}, err
	}

	now := m.now().UTC()
	s := m.store.Create(func(id string) Session {
		return Session{
			ID:           id,
			SerialNumber: info.SerialNumber,
			Mode:         mode,
			Poses:        []pose.Pose{},
			Detections:   []camera.Detection{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	})

	m.logger.Info("calibration started", "session_id", s.ID, "serial_number", s.SerialNumber, "mode", string(mode))
	m.events.Publish(ctx, events.Event{
		Type:         events.CalibrationStarted,
		SerialNumber: s.SerialNumber,
		SessionID:    s.ID,
		Payload:      map[string]string{"mode": string(mode)},
	})
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

// AddPose captures and searches for the board with the camera of session
// id. If the board is found, the pair is appended and the calibration
// re-solved. If it is not found, the session is returned unchanged with
// detected false and no error: the caller moves the robot and retries.
// A solve failure does not undo the append; see Session.SolveError.
func (m *Manager) AddPose(ctx context.Context, id string, p pose.Pose) (s Session, detected bool, err error) {
	s, err = m.store.Update(id, func(s Session) (Session, error) {
		det, err := m.detect(ctx, s.SerialNumber)
		if err != nil {
			return s, err
		}
		if !det.Valid() {
			m.logger.Info("calibration board not detected",
				"session_id", s.ID,
				"serial_number", s.SerialNumber,
				"feedback", camera.Feedback(det),
			)
			return s, nil
		}

		detected = true
		s.Poses = append(s.Poses, p)
		s.Detections = append(s.Detections, det)
		m.logger.Info("calibration pose added", "session_id", s.ID, "index", len(s.Poses)-1)

		if err := m.recompute(ctx, &s); err != nil {
			return s, err
		}
		return s, nil
	})
	if err != nil {
		return Session{}, false, err
	}
	if detected {
		m.publishUpdated(ctx, s)
	}
	return s, detected, nil
}

// RemovePose drops the pair at index and re-solves. Later pairs shift
// down by one. Only an index outside the pairs is refused.
func (m *Manager) RemovePose(ctx context.Context, id string, index int) (Session, error) {
	s, err := m.store.Update(id, func(s Session) (Session, error) {
		if index < 0 || index >= len(s.Poses) {
			return s, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, index, len(s.Poses))
		}

		s.Poses = append(s.Poses[:index], s.Poses[index+1:]...)
		s.Detections = append(s.Detections[:index], s.Detections[index+1:]...)
		m.logger.Info("calibration pose removed", "session_id", s.ID, "index", index)

		if err := m.recompute(ctx, &s); err != nil {
			return s, err
		}
		return s, nil
	})
	if err != nil {
		return Session{}, err
	}
	m.publishUpdated(ctx, s)
	return s, nil
}

// ClearPoses drops every pair and resets the results to null.
func (m *Manager) ClearPoses(ctx context.Context, id string) (Session, error) {
	s, err := m.store.Update(id, func(s Session) (Session, error) {
		s.Poses = []pose.Pose{}
		s.Detections = []camera.Detection{}
		s.Residuals = nil
		s.HandEyeCalibration = nil
		s.SolveError = ""
		s.UpdatedAt = m.now().UTC()
		return s, nil
	})
	if err != nil {
		return Session{}, err
	}
	m.logger.Info("calibration poses cleared", "session_id", id)
	m.publishUpdated(ctx, s)
	return s, nil
}

// Delete removes one session. It does not wait for a pose capture in
// progress on that session; the capture's outcome is discarded.
func (m *Manager) Delete(ctx context.Context, id string) error {
	s, err := m.store.Delete(id)
	if err != nil {
		return err
	}
	m.logger.Info("calibration deleted", "session_id", id)
	m.events.Publish(ctx, events.Event{Type: events.CalibrationDeleted, SerialNumber: s.SerialNumber, SessionID: id})
	return nil
}

// Clear removes every session.
func (m *Manager) Clear(ctx context.Context) {
	n := m.store.Clear()
	m.logger.Info("calibrations cleared", "count", n)
	m.events.Publish(ctx, events.Event{Type: events.CalibrationCleared, Fields: map[string]float64{"count": float64(n)}})
}

// recompute re-solves s in place once it holds MinPoses pairs. Below that
// it leaves the previous results alone. A solver error is recorded on the
// session rather than returned, so the mutation that triggered it stands.
func (m *Manager) recompute(ctx context.Context, s *Session) error {
	s.UpdatedAt = m.now().UTC()

	if len(s.Poses) != len(s.Detections) {
		return fmt.Errorf("%w: %d poses, %d detections", ErrInconsistent, len(s.Poses), len(s.Detections))
	}
	if len(s.Poses) < MinPoses {
		m.logger.Debug("not enough poses to solve", "session_id", s.ID, "poses", len(s.Poses))
		s.SolveError = ""
		return nil
	}

	inputs := make([]Input, len(s.Poses))
	for i := range s.Poses {
		inputs[i] = Input{Pose: s.Poses[i], Detection: s.Detections[i]}
	}

	res, err := m.solver.Solve(ctx, s.Mode, inputs)
	if err != nil {
		m.logger.Warn("hand-eye calibration not solved",
			"session_id", s.ID,
			"poses", len(inputs),
			"error", err,
		)
		s.HandEyeCalibration = nil
		s.Residuals = nil
		s.SolveError = err.Error()
		return nil
	}

	transform := res.Transform
	s.HandEyeCalibration = &transform
	s.Residuals = append([]Residual{}, res.Residuals...)
	s.SolveError = ""

	for i, r := range s.Residuals {
		m.logger.Info("calibration residual",
			"session_id", s.ID,
			"index", i,
			"translation_mm", r.Translation,
			"rotation_deg", r.Rotation,
		)
	}
	m.logger.Info("calibration solved", "session_id", s.ID, "poses", len(inputs))
	return nil
}

// detect runs one board detection under the hardware lock.
func (m *Manager) detect(ctx context.Context, serial string) (camera.Detection, error) {
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
	return det, nil
}

func (m *Manager) connected(ctx context.Context, serial string) (camera.Info, error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return camera.Info{}, err
	}
	defer release()

	dev, err := m.registry.Connected(ctx, serial)
	if err != nil {
		return camera.Info{}, err
	}
	return dev.Info(), nil
}

func (m *Manager) publishUpdated(ctx context.Context, s Session) {
	fields := map[string]float64{"poses": float64(len(s.Poses))}
	if len(s.Residuals) > 0 {
		var tr, rot float64
		for _, r := range s.Residuals {
			tr += r.Translation
			rot += r.Rotation
		}
		n := float64(len(s.Residuals))
		fields["mean_translation_residual_mm"] = tr / n
		fields["mean_rotation_residual_deg"] = rot / n
	}
	m.events.Publish(ctx, events.Event{
		Type:         events.CalibrationUpdated,
		SerialNumber: s.SerialNumber,
		SessionID:    s.ID,
		Payload:      s,
		Fields:       fields,
	})
}
