package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

type published struct {
	key  string
	body []byte
}

type recordingClient struct {
	mu    sync.Mutex
	items []published
}

func (c *recordingClient) Publish(ctx context.Context, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, published{key: routingKey, body: body})
	return nil
}

func (c *recordingClient) Receive(ctx context.Context, queueName string) (Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *recordingClient) Ack(context.Context, Message) error { return nil }
func (c *recordingClient) Close() error                       { return nil }

func (c *recordingClient) snapshot() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.items...)
}

type dropCounter struct {
	mu sync.Mutex
	n  int
}

func (d *dropCounter) RecordRelayDropped() {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "plans.g1.status", RoutingKey("g1", jobs.EventStatus))
	assert.Equal(t, "plans.g1.completed", RoutingKey("g1", jobs.EventCompleted))
}

func TestRelay_MirrorsJobEvents(t *testing.T) {
	client := &recordingClient{}
	relay := NewRelay(client)
	store := jobs.NewStore(jobs.WithObserver(relay))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	_, err := store.Create("g1")
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning("g1"))
	_, err = store.Publish("g1", jobs.StatusEvent("processing"))
	require.NoError(t, err)
	require.NoError(t, store.MarkTerminal("g1", jobs.CompletedEvent(map[string]string{"plan": "ok"})))

	require.Eventually(t, func() bool { return len(client.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	items := client.snapshot()
	assert.Equal(t, "plans.g1.status", items[0].key)
	assert.Equal(t, "plans.g1.completed", items[1].key)

	var evt RelayedEvent
	require.NoError(t, json.Unmarshal(items[1].body, &evt))
	assert.Equal(t, "g1", evt.GoalID)
	assert.Equal(t, types.JobStatusSucceeded, evt.Status)
	assert.Equal(t, jobs.EventCompleted, evt.Event.Kind)
	assert.Equal(t, uint64(2), evt.Event.Seq)
}

func TestRelay_DropsWhenFull(t *testing.T) {
	client := &recordingClient{}
	drops := &dropCounter{}
	relay := NewRelay(client, WithBuffer(2), WithDropRecorder(drops))

	// nothing drains the buffer, so the third event must not block
	view := types.JobView{ID: "g1", Status: types.JobStatusRunning}
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			relay.EventPublished(view, jobs.StatusEvent("tick"))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("EventPublished blocked on a full buffer")
	}
	assert.Equal(t, int64(3), relay.Dropped())
	assert.Equal(t, 3, drops.n)
}

func TestRelay_FlushesOnStop(t *testing.T) {
	client := &recordingClient{}
	relay := NewRelay(client)

	view := types.JobView{ID: "g2", Status: types.JobStatusRunning}
	relay.EventPublished(view, jobs.StatusEvent("a"))
	relay.EventPublished(view, jobs.StatusEvent("b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, relay.Run(ctx))

	assert.Len(t, client.snapshot(), 2)
}
