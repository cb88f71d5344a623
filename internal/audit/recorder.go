package audit

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-vision/internal/events"
)

// recorderQueueSize bounds entries waiting for the writer. Entries beyond
// this are dropped so request latency never depends on SQLite.
const recorderQueueSize = 256

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder is an events.Sink that writes every event to the repository
// from a single background goroutine.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger
	done   chan struct{}
	once   sync.Once
}

// NewRecorder creates a recorder. Call Run to start writing.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, recorderQueueSize),
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for dropped or failed writes.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Publish enqueues an audit entry for the event. It never blocks.
func (r *Recorder) Publish(_ context.Context, e events.Event) error {
	entry := &Entry{
		Action:       string(e.Type),
		SerialNumber: e.SerialNumber,
		SessionID:    e.SessionID,
		Source:       "api",
		CreatedAt:    e.Time,
	}
	if len(e.Fields) > 0 || e.Payload != nil {
		entry.Details = make(map[string]any, len(e.Fields)+1)
		for k, v := range e.Fields {
			entry.Details[k] = v
		}
		if e.Payload != nil {
			entry.Details["payload"] = e.Payload
		}
	}

	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, dropping entry", "action", entry.Action)
	}
	return nil
}

// Run writes queued entries until ctx is cancelled, then drains what is
// left and returns.
func (r *Recorder) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) write(entry *Entry) {
	// The request that produced the entry may be gone; the write is not
	// tied to its context.
	if err := r.repo.Create(context.Background(), entry); err != nil {
		r.logger.Error("audit write failed", "action", entry.Action, "error", err)
	}
}
