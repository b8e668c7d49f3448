// ABOUTME: Tests for the delivery loop: drop, deliver, apology and round-robin fairness
// ABOUTME: Drives single passes directly and the full Run loop against fake services

package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fixie-bridge/internal/memgpt"
	"github.com/2389/fixie-bridge/internal/memgpt/memgpttest"
	"github.com/2389/fixie-bridge/internal/queue"
	"github.com/2389/fixie-bridge/internal/store"
)

type sent struct {
	user, text string
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recordingSender) SendText(ctx context.Context, userID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{userID, text})
	return nil
}

func (r *recordingSender) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

func newClient(baseURL string) *memgpt.Client {
	return memgpt.NewClient(baseURL, "secret", 5*time.Second,
		memgpt.WithRetryPolicy(memgpt.RetryPolicy{
			MaxAttempts: 3,
			Delay:       time.Millisecond,
			Classify:    memgpt.NewClassifier(memgpt.DefaultNotReadyMarkers...),
		}),
	)
}

type harness struct {
	q    *queue.Queue
	dir  *store.MockStore
	out  *recordingSender
	loop *Loop
}

func newHarness(t *testing.T, baseURL string) *harness {
	t.Helper()
	h := &harness{
		q:   queue.New(),
		dir: store.NewMockStore(),
		out: &recordingSender{},
	}
	h.loop = New(h.q, h.dir, newClient(baseURL), h.out, Config{
		PollInterval: 5 * time.Millisecond,
		Log:          h.dir,
	})
	return h
}

func TestDeliver_EndToEndRegistrationScenario(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`data: {"assistant_message":"hi"}` + "\n"))
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, h.dir.SaveUser(ctx, &store.User{ID: "42", Pseudonym: "ann"}))

	// unprovisioned: dropped with no remote call
	h.q.Enqueue("42", "hello")
	assert.True(t, h.loop.drainOnce(ctx))
	mu.Lock()
	assert.Empty(t, paths)
	mu.Unlock()
	assert.Equal(t, []sent{{"42", ReRegisterText}}, h.out.all())

	// registration completes
	require.NoError(t, h.dir.SetAgentID(ctx, "42", "A1"))

	h.q.Enqueue("42", "hello")
	assert.True(t, h.loop.drainOnce(ctx))
	mu.Lock()
	assert.Equal(t, []string{"POST /agents/A1/messages"}, paths)
	mu.Unlock()
	assert.Equal(t, sent{"42", "hi"}, h.out.all()[1])

	ds, err := h.dir.ListDeliveries(ctx, "42", 0)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, store.DeliveryDelivered, ds[0].Status)
	assert.Equal(t, "A1", ds[0].AgentID)
	assert.Equal(t, "hi", ds[0].Reply)
	assert.Equal(t, store.DeliveryDropped, ds[1].Status)
}

func TestDeliver_ApologyAfterRetriesExhausted(t *testing.T) {
	srv := memgpttest.New(t)
	var calls atomic.Int32
	srv.Reply = func(agentID, message string) (int, string) {
		calls.Add(1)
		return http.StatusInternalServerError, "agent_id " + agentID + " does not exist"
	}

	h := newHarness(t, srv.BaseURL())
	ctx := context.Background()
	require.NoError(t, h.dir.SaveUser(ctx, &store.User{ID: "42", Pseudonym: "ann"}))
	require.NoError(t, h.dir.SetAgentID(ctx, "42", "A1"))

	h.q.Enqueue("42", "hello")
	h.loop.drainOnce(ctx)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []sent{{"42", ApologyText}}, h.out.all())

	// fire-and-once: nothing was put back
	assert.Equal(t, 0, h.q.Depth("42"))

	ds, err := h.dir.ListDeliveries(ctx, "42", 0)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, store.DeliveryFailed, ds[0].Status)
	assert.Contains(t, ds[0].Error, "does not exist")
}

func TestDeliver_NoAssistantMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: {\"internal_monologue\":\"hmm\"}\n\n"))
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, h.dir.SaveUser(ctx, &store.User{ID: "42"}))
	require.NoError(t, h.dir.SetAgentID(ctx, "42", "A1"))

	h.q.Enqueue("42", "hello")
	h.loop.drainOnce(ctx)
	assert.Equal(t, []sent{{"42", NoReplyText}}, h.out.all())
}

func TestDeliver_UnknownUserIsDropped(t *testing.T) {
	srv := memgpttest.New(t)
	h := newHarness(t, srv.BaseURL())

	h.q.Enqueue("stranger", "hello")
	h.loop.drainOnce(context.Background())

	assert.Equal(t, []sent{{"stranger", ReRegisterText}}, h.out.all())
	assert.Empty(t, srv.Requests())
}

func TestDrainOnce_RoundRobin(t *testing.T) {
	srv := memgpttest.New(t)
	srv.Reply = func(agentID, message string) (int, string) {
		return http.StatusOK, "re:" + message
	}

	h := newHarness(t, srv.BaseURL())
	ctx := context.Background()
	for _, u := range []string{"a", "b"} {
		require.NoError(t, h.dir.SaveUser(ctx, &store.User{ID: u}))
		require.NoError(t, h.dir.SetAgentID(ctx, u, "agent-"+u))
	}

	h.q.Enqueue("a", "a1")
	h.q.Enqueue("a", "a2")
	h.q.Enqueue("a", "a3")
	h.q.Enqueue("b", "b1")

	assert.True(t, h.loop.drainOnce(ctx))
	assert.Equal(t, []sent{{"a", "re:a1"}, {"b", "re:b1"}}, h.out.all())
	assert.Equal(t, 2, h.q.Depth("a"))

	assert.True(t, h.loop.drainOnce(ctx))
	assert.True(t, h.loop.drainOnce(ctx))
	assert.False(t, h.loop.drainOnce(ctx))

	assert.Equal(t, []sent{
		{"a", "re:a1"}, {"b", "re:b1"}, {"a", "re:a2"}, {"a", "re:a3"},
	}, h.out.all())
}

func TestRun_DeliversAndStops(t *testing.T) {
	srv := memgpttest.New(t)
	srv.Reply = func(agentID, message string) (int, string) {
		return http.StatusOK, "re:" + message
	}

	h := newHarness(t, srv.BaseURL())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.dir.SaveUser(ctx, &store.User{ID: "42"}))
	require.NoError(t, h.dir.SetAgentID(ctx, "42", "A1"))

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	// the loop parks when idle and must wake on enqueue
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		h.q.Enqueue("42", fmt.Sprintf("m%d", i))
	}

	require.Eventually(t, func() bool { return len(h.out.all()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []sent{{"42", "re:m0"}, {"42", "re:m1"}, {"42", "re:m2"}}, h.out.all())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Idle, h.loop.State())
}
