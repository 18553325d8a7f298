package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"queue-router/internal/brokers"
)

// SeedFunc commits a message with body to queue outside of any session under test
type SeedFunc func(t *testing.T, queue string, body []byte)

// RunSessionContract checks the transactional guarantees every transport must give.
// Queue names are prefixed so the suite can share a server with other tests.
func RunSessionContract(t *testing.T, conn brokers.Connection, seed SeedFunc) {
	ctx := context.Background()

	drain := func(t *testing.T, queue string) []string {
		t.Helper()
		reader, err := conn.NewSession(ctx, "contract-reader-"+queue)
		require.NoError(t, err)
		consumer, err := reader.Consumer(queue)
		require.NoError(t, err)

		var bodies []string
		for {
			msg, err := consumer.ReceiveNoWait(ctx)
			require.NoError(t, err)
			if msg == nil {
				break
			}
			bodies = append(bodies, string(msg.Body))
		}
		require.NoError(t, reader.Commit(ctx))
		require.NoError(t, reader.Close())
		return bodies
	}

	t.Run("EmptyQueue", func(t *testing.T) {
		session, err := conn.NewSession(ctx, "contract-empty")
		require.NoError(t, err)
		defer session.Close()

		consumer, err := session.Consumer("contract.empty")
		require.NoError(t, err)
		msg, err := consumer.ReceiveNoWait(ctx)
		assert.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("CommitPublishesAndConsumes", func(t *testing.T) {
		seed(t, "contract.commit.in", []byte("<one/>"))

		session, err := conn.NewSession(ctx, "contract-commit")
		require.NoError(t, err)
		defer session.Close()

		consumer, err := session.Consumer("contract.commit.in")
		require.NoError(t, err)
		outA, err := session.Producer("contract.commit.a")
		require.NoError(t, err)
		outB, err := session.Producer("contract.commit.b")
		require.NoError(t, err)

		msg, err := consumer.ReceiveNoWait(ctx)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.NoError(t, outA.Send(ctx, msg.Forward()))
		require.NoError(t, outB.Send(ctx, msg.Forward()))
		require.NoError(t, session.Commit(ctx))

		assert.Equal(t, []string{"<one/>"}, drain(t, "contract.commit.a"))
		assert.Equal(t, []string{"<one/>"}, drain(t, "contract.commit.b"))
		assert.Empty(t, drain(t, "contract.commit.in"))
	})

	t.Run("RollbackRedeliversAndDiscards", func(t *testing.T) {
		seed(t, "contract.rollback.in", []byte("<one/>"))

		session, err := conn.NewSession(ctx, "contract-rollback")
		require.NoError(t, err)
		defer session.Close()

		consumer, err := session.Consumer("contract.rollback.in")
		require.NoError(t, err)
		out, err := session.Producer("contract.rollback.out")
		require.NoError(t, err)

		msg, err := consumer.ReceiveNoWait(ctx)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.NoError(t, out.Send(ctx, msg.Forward()))
		require.NoError(t, session.Rollback(ctx))

		assert.Empty(t, drain(t, "contract.rollback.out"))
		assert.Equal(t, []string{"<one/>"}, drain(t, "contract.rollback.in"))
	})
}
