package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
)

type sseEvent struct {
	id    string
	event string
	data  string
}

// readSSE parses frames until the body ends; comment lines are collected separately
func readSSE(t *testing.T, body io.Reader) (events []sseEvent, comments int) {
	t.Helper()

	scanner := bufio.NewScanner(body)
	var cur sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, ":"):
			comments++
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events, comments
}

type countingObserver struct {
	mu     sync.Mutex
	opened int
	closed int
	ended  int
}

func (o *countingObserver) StreamOpened(string) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *countingObserver) StreamClosed(_ string, reachedEnd bool) {
	o.mu.Lock()
	o.closed++
	if reachedEnd {
		o.ended++
	}
	o.mu.Unlock()
}

func newService() *jobs.Service {
	store := jobs.NewStore()
	return jobs.NewService(store, jobs.NewRunner(store, jobs.WithTimeout(time.Second)))
}

func newServer(adapter *Adapter) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapter.ServeSSE(w, r, strings.TrimPrefix(r.URL.Path, "/stream/"))
	}))
}

func TestEncode(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		evt       jobs.Event
		wantEvent string
		wantData  string
	}{
		{
			name:      "status",
			evt:       jobs.Event{Seq: 1, Kind: jobs.EventStatus, Message: "processing", Timestamp: ts},
			wantEvent: "status",
			wantData:  `{"message":"processing","timestamp":"2025-03-01T10:00:00Z"}`,
		},
		{
			name:      "completed carries result verbatim",
			evt:       jobs.Event{Seq: 2, Kind: jobs.EventCompleted, Result: map[string]int{"tasks": 3}, Timestamp: ts},
			wantEvent: "completed",
			wantData:  `{"tasks":3}`,
		},
		{
			name:      "failed",
			evt:       jobs.Event{Seq: 2, Kind: jobs.EventFailed, Error: "boom", Reason: jobs.ReasonTimeout, Timestamp: ts},
			wantEvent: "failed",
			wantData:  `{"error":"boom","reason":"timeout","timestamp":"2025-03-01T10:00:00Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.evt)
			require.NoError(t, err)
			assert.Equal(t, tt.evt.Seq, frame.ID)
			assert.Equal(t, tt.wantEvent, frame.Event)
			assert.JSONEq(t, tt.wantData, string(frame.Data))
		})
	}

	_, err := Encode(jobs.Event{Kind: "bogus"})
	assert.Error(t, err)
}

func TestStream_NextUntilEOF(t *testing.T) {
	svc := newService()
	adapter := NewAdapter(svc)

	release := make(chan struct{})
	_, err := svc.Submit("job", func(ctx context.Context, p jobs.Progress) (any, error) {
		<-release
		return "R", nil
	})
	require.NoError(t, err)

	stream, err := adapter.Open("job")
	require.NoError(t, err)
	defer stream.Close()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var names []string
	for {
		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, frame.Event)
	}
	assert.Equal(t, []string{"status", "completed"}, names)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestAdapter_OpenUnknown(t *testing.T) {
	adapter := NewAdapter(newService())

	_, err := adapter.Open("missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestServeSSE_StreamsUntilTerminal(t *testing.T) {
	svc := newService()
	obs := &countingObserver{}
	adapter := NewAdapter(svc, WithObserver(obs))
	srv := newServer(adapter)
	defer srv.Close()

	_, err := svc.Submit("job", func(ctx context.Context, p jobs.Progress) (any, error) {
		time.Sleep(50 * time.Millisecond)
		p.Status("Saving plan")
		return map[string]string{"goal_id": "job"}, nil
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/stream/job")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	events, _ := readSSE(t, resp.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "status", events[0].event)
	assert.Contains(t, events[0].data, `"message":"processing"`)
	assert.Equal(t, "1", events[0].id)
	assert.Equal(t, "status", events[1].event)
	assert.Equal(t, "completed", events[2].event)
	assert.JSONEq(t, `{"goal_id":"job"}`, events[2].data)

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.closed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, obs.opened)
	assert.Equal(t, 1, obs.ended)
}

func TestServeSSE_LateSubscriberGetsTerminalOnly(t *testing.T) {
	svc := newService()
	srv := newServer(NewAdapter(svc))
	defer srv.Close()

	_, err := svc.Submit("job", func(ctx context.Context, p jobs.Progress) (any, error) {
		return nil, &jobs.WorkError{Description: "boom"}
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		view, err := svc.Status("job")
		return err == nil && view.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/stream/job")
	require.NoError(t, err)
	defer resp.Body.Close()

	events, _ := readSSE(t, resp.Body)
	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0].event)
	assert.Contains(t, events[0].data, `"error":"boom"`)
	assert.Contains(t, events[0].data, `"reason":"work_error"`)
}

func TestServeSSE_NotFound(t *testing.T) {
	srv := newServer(NewAdapter(newService()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeSSE_KeepAlive(t *testing.T) {
	svc := newService()
	srv := newServer(NewAdapter(svc, WithKeepAlive(20*time.Millisecond)))
	defer srv.Close()

	_, err := svc.Submit("job", func(ctx context.Context, p jobs.Progress) (any, error) {
		time.Sleep(150 * time.Millisecond)
		return "R", nil
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/stream/job")
	require.NoError(t, err)
	defer resp.Body.Close()

	events, comments := readSSE(t, resp.Body)
	require.Len(t, events, 2)
	assert.Equal(t, "completed", events[1].event)
	assert.GreaterOrEqual(t, comments, 2)
}

func TestServeSSE_DisconnectDetachesWithoutAffectingJob(t *testing.T) {
	svc := newService()
	obs := &countingObserver{}
	srv := newServer(NewAdapter(svc, WithObserver(obs)))
	defer srv.Close()

	release := make(chan struct{})
	_, err := svc.Submit("job", func(ctx context.Context, p jobs.Progress) (any, error) {
		<-release
		return "R", nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream/job", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	// first frame arrives, then the client goes away
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 1\n", line)
	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool {
		view, err := svc.Status("job")
		return err == nil && view.Subscribers == 0
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		view, err := svc.Status("job")
		return err == nil && view.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.closed == 1
	}, time.Second, 5*time.Millisecond)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 0, obs.ended)
}
