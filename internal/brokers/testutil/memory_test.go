package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_Contract(t *testing.T) {
	broker := NewBroker()
	RunSessionContract(t, broker, func(t *testing.T, queue string, body []byte) {
		broker.Put(queue, body)
	})
}

func TestMemoryBroker_FaultInjection(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker()
	broker.Put("IN", []byte("x"))

	session, err := broker.NewSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, broker.Sessions())

	broker.FailReceives(fmt.Errorf("receive down"))
	consumer, _ := session.Consumer("IN")
	_, err = consumer.ReceiveNoWait(ctx)
	assert.EqualError(t, err, "receive down")
	broker.FailReceives(nil)

	msg, err := consumer.ReceiveNoWait(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	broker.FailSends("OUT", fmt.Errorf("send down"))
	producer, _ := session.Producer("OUT")
	assert.EqualError(t, producer.Send(ctx, msg), "send down")

	broker.PanicOnSend("BOOM", "kaboom")
	boom, _ := session.Producer("BOOM")
	assert.PanicsWithValue(t, "kaboom", func() { _ = boom.Send(ctx, msg) })

	broker.FailCommits(fmt.Errorf("commit down"))
	assert.EqualError(t, session.Commit(ctx), "commit down")

	require.NoError(t, session.Rollback(ctx))
	assert.Equal(t, 1, broker.Rollbacks())
	assert.Equal(t, 0, broker.Commits())
	assert.Equal(t, 1, broker.Len("IN"))

	broker.FailSessions(fmt.Errorf("no channels"))
	_, err = broker.NewSession(ctx, "t")
	assert.Error(t, err)

	require.NoError(t, broker.Close())
	assert.Error(t, broker.Health(ctx))
}
