package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"queue-router/internal/brokers"
	"queue-router/internal/brokers/testutil"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
	"queue-router/internal/supervisor"
	"queue-router/internal/worker"
)

const testDocument = `
broker:
  type: rabbitmq
  url: amqp://mq.local:5672/
http:
  shutdownGrace: 2s
routes:
  - inputQueue: INPUT
    workerCount: 2
    format: json
    outputQueues:
      - name: ARCHIVE
        behavior: ALL
      - name: ORDERS
        behavior: MATCH
        matcher:
          extractor: type
          pattern: ORDER
      - name: MANUAL
        behavior: REMAINDER
    log:
      - key: id
        extractor: id
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(testDocument))
	require.NoError(t, err)
	cfg.HTTP.Port = 0
	return cfg
}

func testApp(t *testing.T, broker *testutil.Broker) *App {
	t.Helper()
	registry := brokers.NewRegistry()
	registry.Register(brokers.FactoryFunc{
		BrokerType: "rabbitmq",
		Fn: func(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (brokers.Connection, error) {
			return broker, nil
		},
	})

	return New(testConfig(t),
		WithBrokerRegistry(registry),
		WithWorkerOptions(
			worker.WithPollInterval(5*time.Millisecond),
			worker.WithFailureBackoff(time.Millisecond),
			worker.WithLogger(logging.NewNopLogger()),
		),
		WithCoordinatorOptions(
			supervisor.WithInterval(10*time.Millisecond),
			supervisor.WithCoordinatorLogger(logging.NewNopLogger()),
		),
	)
}

func get(t *testing.T, a *App, path string) (int, string) {
	t.Helper()
	_, port, err := net.SplitHostPort(a.Server.Addr())
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%s%s", port, path))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApp_RoutesUntilShutdown(t *testing.T) {
	broker := testutil.NewBroker()
	broker.Put("INPUT", []byte(`{"id":"1","type":"ORDER"}`))
	broker.Put("INPUT", []byte(`{"id":"2","type":"INVOICE"}`))
	broker.Put("INPUT", []byte(`not json`))

	a := testApp(t, broker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return broker.Len("ARCHIVE") == 3 && broker.Len("ORDERS") == 1 && broker.Len("MANUAL") == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, broker.Len("INPUT"))

	require.Eventually(t, func() bool {
		status, _ := get(t, a, "/is_ready")
		return status == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	status, body := get(t, a, "/is_alive")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "I'm alive!", body)

	status, body = get(t, a, "/prometheus?name[]=message_counter")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `message_counter{input_queue="INPUT",output_queue="ARCHIVE"} 3`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("application did not stop")
	}

	assert.False(t, a.State.Running())
	assert.Error(t, broker.Health(context.Background()), "broker connection is closed on exit")
}

func TestApp_WorkerDeathStopsProcess(t *testing.T) {
	broker := testutil.NewBroker()
	broker.FailReceives(fmt.Errorf("channel closed"))

	a := testApp(t, broker)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeWorker))
	case <-time.After(3 * time.Second):
		t.Fatal("application did not stop after worker death")
	}
	assert.False(t, a.State.Running())
	assert.False(t, a.State.Ready())
}

func TestApp_StartUnknownBroker(t *testing.T) {
	a := New(testConfig(t), WithBrokerRegistry(brokers.NewRegistry()))
	err := a.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestApp_RunBeforeStart(t *testing.T) {
	a := New(testConfig(t))
	assert.Error(t, a.Run(context.Background()))
}

func TestRootCommand_Flags(t *testing.T) {
	previous := runFunc
	defer func() { runFunc = previous }()

	var got RunOptions
	runFunc = func(opts RunOptions) error {
		got = opts
		return nil
	}

	cmd := NewRootCommand("1.2.3")
	cmd.SetArgs([]string{"--config", "/etc/router/config.yaml", "--credentials", "/var/run/secrets/mq.json", "--port", "9090"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, RunOptions{
		ConfigFile:      "/etc/router/config.yaml",
		CredentialsFile: "/var/run/secrets/mq.json",
		Port:            9090,
		Version:         "1.2.3",
	}, got)
}

func TestRootCommand_Version(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand("1.2.3")
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "1.2.3\n", out.String())
}

func TestDefaultRegistryHasTransports(t *testing.T) {
	assert.Equal(t, []string{"rabbitmq", "redis"}, brokers.AvailableTypes())
}
