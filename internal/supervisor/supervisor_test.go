package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"queue-router/internal/brokers/testutil"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
	"queue-router/internal/delivery"
	"queue-router/internal/state"
	"queue-router/internal/worker"
)

type nopMetrics struct{}

func (nopMetrics) IncDelivered(string, string)        {}
func (nopMetrics) ObserveRoute(string, time.Duration) {}

type fakeHTTP struct {
	mu        sync.Mutex
	shutdowns int
}

func (f *fakeHTTP) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func (f *fakeHTTP) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

func route(input string, workers int, outputs ...string) config.Route {
	r := config.Route{InputQueue: input, Format: "xml", WorkerCount: workers}
	for _, name := range outputs {
		r.OutputQueues = append(r.OutputQueues, config.OutputQueue{Name: name, Behavior: config.BehaviorAll})
	}
	return r
}

func workerOptions() []worker.Option {
	return []worker.Option{
		worker.WithPollInterval(2 * time.Millisecond),
		worker.WithFailureBackoff(time.Millisecond),
		worker.WithLogger(logging.NewNopLogger()),
	}
}

func coordinatorOptions() []CoordinatorOption {
	return []CoordinatorOption{
		WithInterval(5 * time.Millisecond),
		WithCoordinatorLogger(logging.NewNopLogger()),
	}
}

func TestSupervisor_StartsCompetingWorkers(t *testing.T) {
	broker := testutil.NewBroker()
	for i := 0; i < 20; i++ {
		broker.Put("orders", []byte(fmt.Sprintf("<order><id>%d</id></order>", i)))
	}

	appState := state.NewApplicationState()
	sup := New(broker, appState, nopMetrics{}, []config.Route{
		route("orders", 3, "billing"),
		route("invoices", 2, "archive"),
	}, workerOptions()...)

	handles := sup.Start(context.Background())
	require.Len(t, handles, 5)
	assert.ElementsMatch(t,
		[]string{"orders-0", "orders-1", "orders-2", "invoices-0", "invoices-1"},
		[]string{handles[0].Name(), handles[1].Name(), handles[2].Name(), handles[3].Name(), handles[4].Name()})

	require.Eventually(t, func() bool { return broker.Len("billing") == 20 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, broker.Len("orders"))

	seen := make(map[string]bool)
	for _, msg := range broker.Messages("billing") {
		assert.False(t, seen[string(msg.Body)], "delivered twice: %s", msg.Body)
		seen[string(msg.Body)] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	httpServer := &fakeHTTP{}
	coordinator := NewCoordinator(appState, handles, httpServer, time.Second, coordinatorOptions()...)

	done := make(chan error, 1)
	go func() { done <- coordinator.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not return")
	}

	assert.False(t, appState.Running())
	assert.Equal(t, 1, httpServer.count())
	for _, h := range handles {
		assert.False(t, h.Active())
		assert.NoError(t, h.Err())
		assert.Equal(t, worker.Stopped, h.State())
	}
}

func TestCoordinator_WorkerDeathStopsEveryone(t *testing.T) {
	broker := testutil.NewBroker()
	broker.FailSends("broken", fmt.Errorf("queue deleted"))

	appState := state.NewApplicationState()
	sup := New(broker, appState, nopMetrics{}, []config.Route{
		route("healthy", 2, "fine"),
		route("poisoned", 1, "broken"),
	}, workerOptions()...)
	handles := sup.Start(context.Background())

	httpServer := &fakeHTTP{}
	coordinator := NewCoordinator(appState, handles, httpServer, time.Second, coordinatorOptions()...)
	done := make(chan error, 1)
	go func() { done <- coordinator.Run(context.Background()) }()

	broker.Put("poisoned", []byte("<msg/>"))

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not notice the dead worker")
	}

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeWorker))
	assert.True(t, delivery.IsFatal(err))
	assert.Contains(t, err.Error(), "poisoned-0")

	assert.False(t, appState.Running())
	assert.False(t, appState.Ready())
	assert.Equal(t, 1, httpServer.count())
	assert.Equal(t, 1, broker.Len("poisoned"), "the failed message stays for redelivery")

	for _, h := range handles {
		assert.False(t, h.Active(), "%s still running", h.Name())
		if h.InputQueue() == "healthy" {
			assert.Equal(t, worker.Stopped, h.State())
		} else {
			assert.Equal(t, worker.Crashed, h.State())
		}
	}
}

func TestCoordinator_WithoutHTTP(t *testing.T) {
	appState := state.NewApplicationState()
	coordinator := NewCoordinator(appState, nil, nil, time.Second, coordinatorOptions()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, coordinator.Run(ctx))
	assert.False(t, appState.Running())
}

func TestHandle_Active(t *testing.T) {
	broker := testutil.NewBroker()
	appState := state.NewApplicationState()
	w := worker.New(route("in", 1, "out"), 0, broker, appState, nopMetrics{}, workerOptions()...)

	h := newHandle(w)
	assert.True(t, h.Active())

	go h.run(context.Background())
	appState.Shutdown()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, h.Active())
	assert.NoError(t, h.Err())
}
