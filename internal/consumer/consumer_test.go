package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/internal/queue"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

type testMessage struct {
	body []byte
}

func (m *testMessage) Body() []byte       { return m.body }
func (m *testMessage) RoutingKey() string { return "plan-requests" }

type chanClient struct {
	messages chan queue.Message
	mu       sync.Mutex
	acked    []queue.Message
}

func newChanClient(bodies ...[]byte) *chanClient {
	c := &chanClient{messages: make(chan queue.Message, len(bodies))}
	for _, b := range bodies {
		c.messages <- &testMessage{body: b}
	}
	return c
}

func (c *chanClient) Publish(context.Context, string, []byte) error { return nil }

func (c *chanClient) Receive(ctx context.Context, queueName string) (queue.Message, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *chanClient) Ack(ctx context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg)
	return nil
}

func (c *chanClient) Close() error { return nil }

func (c *chanClient) ackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acked)
}

type stubSubmitter struct {
	mu    sync.Mutex
	plans []types.Plan
	errs  map[string]error
}

func (s *stubSubmitter) Submit(ctx context.Context, plan types.Plan) (types.SubmitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, plan)
	if err := s.errs[plan.GoalID]; err != nil {
		return types.SubmitResponse{}, err
	}
	return types.SubmitResponse{Success: true, GoalID: plan.GoalID}, nil
}

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *countingRecorder) RecordPlanRequest(source, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[source+"/"+result]++
}

func planBody(t *testing.T, goalID string) []byte {
	t.Helper()
	body, err := json.Marshal(types.Plan{
		UserID: uuid.NewString(),
		GoalID: goalID,
		GoalContent: types.GoalContent{
			Duration:         "1 month",
			CurrentSituation: "none",
			Task:             "Learn Go",
		},
	})
	require.NoError(t, err)
	return body
}

func TestRequestConsumer_SubmitsAndAcks(t *testing.T) {
	okGoal := uuid.NewString()
	dupGoal := uuid.NewString()
	badGoal := uuid.NewString()
	failGoal := uuid.NewString()

	client := newChanClient(
		planBody(t, okGoal),
		[]byte("not json"),
		planBody(t, dupGoal),
		planBody(t, badGoal),
		planBody(t, failGoal),
	)
	submitter := &stubSubmitter{errs: map[string]error{
		dupGoal:  jobs.ErrDuplicateJob,
		badGoal:  types.ErrInvalidPlan,
		failGoal: errors.New("boom"),
	}}
	recorder := &countingRecorder{}

	c := NewRequestConsumer(client, "plan-requests", submitter, recorder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return client.ackCount() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, submitter.plans, 4)
	assert.Equal(t, okGoal, submitter.plans[0].GoalID)
	assert.Equal(t, map[string]int{
		"queue/accepted":  1,
		"queue/malformed": 1,
		"queue/duplicate": 1,
		"queue/invalid":   1,
		"queue/error":     1,
	}, recorder.results)
}

func TestRequestConsumer_LeavesRequestDuringShutdown(t *testing.T) {
	goal := uuid.NewString()
	client := newChanClient(planBody(t, goal))
	submitter := &stubSubmitter{errs: map[string]error{goal: jobs.ErrShuttingDown}}

	c := NewRequestConsumer(client, "plan-requests", submitter, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		submitter.mu.Lock()
		defer submitter.mu.Unlock()
		return len(submitter.plans) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, client.ackCount())
}
