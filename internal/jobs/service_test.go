package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

func newTestService(opts ...ServiceOption) *Service {
	store := NewStore()
	return NewService(store, NewRunner(store, WithTimeout(5*time.Second)), opts...)
}

func waitForStatus(t *testing.T, svc *Service, jobID string, want types.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		view, err := svc.Status(jobID)
		return err == nil && view.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestService_SleepThenResult(t *testing.T) {
	svc := newTestService()

	start := time.Now()
	accepted, err := svc.Submit("J1", func(ctx context.Context, p Progress) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return map[string]string{"plan": "R"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "J1", accepted.JobID)
	assert.Equal(t, types.JobStatusPending, accepted.Status)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "Submit must not wait for the work")

	sub, err := svc.Subscribe("J1")
	require.NoError(t, err)

	events := drain(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, EventStatus, events[0].Kind)
	assert.Equal(t, "processing", events[0].Message)
	assert.Equal(t, EventCompleted, events[1].Kind)
	assert.Equal(t, map[string]string{"plan": "R"}, events[1].Result)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestService_WorkErrorBecomesFailedEvent(t *testing.T) {
	svc := newTestService()

	_, err := svc.Submit("J2", func(ctx context.Context, p Progress) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, &WorkError{Description: "boom"}
	})
	require.NoError(t, err)

	sub, err := svc.Subscribe("J2")
	require.NoError(t, err)

	events := drain(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, "processing", events[0].Message)
	assert.Equal(t, EventFailed, events[1].Kind)
	assert.Equal(t, "boom", events[1].Error)
}

func TestService_EarlyAndLateSubscribersShareTerminal(t *testing.T) {
	svc := newTestService()

	release := make(chan struct{})
	_, err := svc.Submit("J3", func(ctx context.Context, p Progress) (any, error) {
		<-release
		return "R3", nil
	})
	require.NoError(t, err)

	subA, err := svc.Subscribe("J3")
	require.NoError(t, err)

	close(release)
	eventsA := drain(t, subA)
	waitForStatus(t, svc, "J3", types.JobStatusSucceeded)

	subB, err := svc.Subscribe("J3")
	require.NoError(t, err)
	eventsB := drain(t, subB)

	require.Len(t, eventsA, 2)
	require.Len(t, eventsB, 1)
	assert.Equal(t, eventsA[1], eventsB[0])
	assert.Equal(t, "R3", eventsB[0].Result)
}

func TestService_DuplicateUntilEvicted(t *testing.T) {
	svc := newTestService()

	release := make(chan struct{})
	work := func(ctx context.Context, p Progress) (any, error) {
		<-release
		return nil, nil
	}

	_, err := svc.Submit("dup", work)
	require.NoError(t, err)

	_, err = svc.Submit("dup", work)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	close(release)
	waitForStatus(t, svc, "dup", types.JobStatusSucceeded)

	_, err = svc.Submit("dup", work)
	assert.ErrorIs(t, err, ErrDuplicateJob, "terminal but not yet evicted")

	require.NoError(t, svc.Registry().Evict("dup"))
	_, err = svc.Submit("dup", work)
	assert.NoError(t, err)
}

func TestService_SubscribeUnknown(t *testing.T) {
	svc := newTestService()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Subscribe("nope")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrJobNotFound)
	case <-time.After(time.Second):
		t.Fatal("Subscribe on unknown job hung")
	}
}

func TestService_GeneratesJobID(t *testing.T) {
	svc := newTestService()

	accepted, err := svc.Submit("", func(ctx context.Context, p Progress) (any, error) { return nil, nil })
	require.NoError(t, err)

	_, err = uuid.Parse(accepted.JobID)
	assert.NoError(t, err)
}

func TestService_MaxConcurrent(t *testing.T) {
	svc := newTestService(WithMaxConcurrent(2))

	var running, peak atomic.Int32
	release := make(chan struct{})
	work := func(ctx context.Context, p Progress) (any, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	}

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := svc.Submit(id, work)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)

	pending := 0
	for _, id := range ids {
		view, err := svc.Status(id)
		require.NoError(t, err)
		if view.Status == types.JobStatusPending {
			pending++
		}
	}
	assert.Equal(t, 2, pending)

	close(release)
	for _, id := range ids {
		waitForStatus(t, svc, id, types.JobStatusSucceeded)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestService_ShutdownWaitsForJobs(t *testing.T) {
	svc := newTestService()

	var finished atomic.Bool
	_, err := svc.Submit("slow", func(ctx context.Context, p Progress) (any, error) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.True(t, finished.Load())

	_, err = svc.Submit("after", func(ctx context.Context, p Progress) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestService_ShutdownDeadlineAbortsJobs(t *testing.T) {
	svc := newTestService(WithMaxConcurrent(1))

	hang := func(ctx context.Context, p Progress) (any, error) { select {} }
	_, err := svc.Submit("running", hang)
	require.NoError(t, err)
	_, err = svc.Submit("queued", hang)
	require.NoError(t, err)
	waitForStatus(t, svc, "running", types.JobStatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = svc.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	for _, id := range []string{"running", "queued"} {
		_, ch, err := svc.Registry().Get(id)
		require.NoError(t, err)
		events := ch.Events()
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, EventFailed, last.Kind, id)
		assert.Equal(t, ReasonAborted, last.Reason, id)
	}
}
