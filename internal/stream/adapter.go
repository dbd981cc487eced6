package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
)

// DefaultKeepAlive is the idle interval after which a comment line is sent
const DefaultKeepAlive = 30 * time.Second

// Source hands out event subscriptions for jobs
type Source interface {
	Subscribe(jobID string) (*jobs.Subscription, error)
}

// Observer is told when outward streams open and close
type Observer interface {
	StreamOpened(jobID string)
	StreamClosed(jobID string, reachedEnd bool)
}

// Frame is one named, serialized event on an outward stream
type Frame struct {
	ID    uint64
	Event string
	Data  []byte
}

// WriteTo writes the frame in text/event-stream format
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", f.ID, f.Event, f.Data)
	return int64(n), err
}

type statusPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type failedPayload struct {
	Error     string             `json:"error"`
	Reason    jobs.FailureReason `json:"reason"`
	Timestamp time.Time          `json:"timestamp"`
}

// Encode frames a job event. Completed events carry the result verbatim.
func Encode(evt jobs.Event) (Frame, error) {
	var payload any
	switch evt.Kind {
	case jobs.EventStatus:
		payload = statusPayload{Message: evt.Message, Timestamp: evt.Timestamp}
	case jobs.EventCompleted:
		payload = evt.Result
	case jobs.EventFailed:
		payload = failedPayload{Error: evt.Error, Reason: evt.Reason, Timestamp: evt.Timestamp}
	default:
		return Frame{}, fmt.Errorf("unknown event kind %q", evt.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s event: %w", evt.Kind, err)
	}
	return Frame{ID: evt.Seq, Event: string(evt.Kind), Data: data}, nil
}

// Adapter bridges job subscriptions to outward push streams
type Adapter struct {
	source    Source
	keepAlive time.Duration
	observer  Observer
	logger    *slog.Logger
}

// Option configures an Adapter
type Option func(*Adapter)

// WithKeepAlive sets the idle keepalive interval. Zero disables keepalives.
func WithKeepAlive(d time.Duration) Option {
	return func(a *Adapter) { a.keepAlive = d }
}

// WithObserver registers a stream observer
func WithObserver(observer Observer) Option {
	return func(a *Adapter) { a.observer = observer }
}

// WithLogger sets the adapter logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// NewAdapter creates an adapter reading from source
func NewAdapter(source Source, opts ...Option) *Adapter {
	a := &Adapter{
		source:    source,
		keepAlive: DefaultKeepAlive,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stream is one outward stream of framed events for a job
type Stream struct {
	sub      *jobs.Subscription
	observer Observer
	ended    bool
	closed   bool
}

// Open attaches a new stream to jobID. Unknown and evicted jobs both yield
// jobs.ErrJobNotFound.
func (a *Adapter) Open(jobID string) (*Stream, error) {
	sub, err := a.source.Subscribe(jobID)
	if err != nil {
		return nil, err
	}
	if a.observer != nil {
		a.observer.StreamOpened(jobID)
	}
	return &Stream{sub: sub, observer: a.observer}, nil
}

// Next returns the next frame. After the terminal frame it returns io.EOF.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	if s.ended {
		return Frame{}, io.EOF
	}

	evt, err := s.sub.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.ended = true
		}
		return Frame{}, err
	}
	if evt.IsTerminal() {
		s.ended = true
	}
	return Encode(evt)
}

// Close detaches the stream from its job. The job itself is unaffected.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.sub.Close()
	if s.observer != nil {
		s.observer.StreamClosed(s.sub.JobID(), s.ended)
	}
}

// ServeSSE streams jobID to w as server-sent events and returns after the
// terminal frame or when the client goes away
func (a *Adapter) ServeSSE(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	stream, err := a.Open(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, "Job not found or expired", http.StatusNotFound)
			return
		}
		a.logger.Error("Failed to open stream", "job", jobID, "error", err)
		http.Error(w, "Failed to open stream", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.logger.Debug("Stream opened", "job", jobID)

	for {
		frame, err := a.next(r.Context(), stream)
		switch {
		case err == nil:
		case errors.Is(err, errIdle):
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		case errors.Is(err, io.EOF):
			a.logger.Debug("Stream finished", "job", jobID)
			return
		case r.Context().Err() != nil:
			a.logger.Debug("Client disconnected", "job", jobID)
			return
		default:
			a.logger.Error("Stream failed", "job", jobID, "error", err)
			return
		}

		if _, err := frame.WriteTo(w); err != nil {
			a.logger.Debug("Failed to write frame", "job", jobID, "error", err)
			return
		}
		flusher.Flush()
	}
}

var errIdle = errors.New("stream idle")

// next waits for the next frame, giving up after one keepalive interval
func (a *Adapter) next(ctx context.Context, stream *Stream) (Frame, error) {
	if a.keepAlive <= 0 {
		return stream.Next(ctx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.keepAlive)
	defer cancel()

	frame, err := stream.Next(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return Frame{}, errIdle
	}
	return frame, err
}
