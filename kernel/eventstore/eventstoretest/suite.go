// Package eventstoretest is a shared conformance suite every eventstore.Store
// implementation must pass, so kernel/eventstore's in-memory store and
// features/eventstore/mongo's MongoDB-backed store are exercised against
// the exact same assertions instead of maintaining two divergent copies.
package eventstoretest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/types"
)

// Run exercises newStore() (called once per subtest, so each starts empty)
// against every guarantee Store implementations must uphold.
func Run(t *testing.T, newStore func() eventstore.Store) {
	t.Helper()

	t.Run("MonotonicSequence", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		var last int64
		for i := 0; i < 5; i++ {
			seq, err := s.Append(ctx, "req-1", types.EventToolProposed, json.RawMessage(`{}`), "")
			require.NoError(t, err)
			require.Greater(t, seq, last)
			last = seq
		}
	})

	t.Run("HashChainVerifiable", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		_, err := s.Append(ctx, "req-1", types.EventToolProposed, json.RawMessage(`{"a":1}`), "corr-1")
		require.NoError(t, err)
		_, err = s.Append(ctx, "req-1", types.EventToolValidated, json.RawMessage(`{"b":2}`), "corr-1")
		require.NoError(t, err)

		events, err := s.GetByRequestID(ctx, "req-1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Empty(t, events[0].PrevHash)
		require.Equal(t, events[0].EventHash, events[1].PrevHash)
		require.NotEmpty(t, events[1].EventHash)
	})

	t.Run("IndexesByRequestAndCorrelation", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		_, err := s.Append(ctx, "req-a", types.EventToolProposed, json.RawMessage(`{}`), "corr-x")
		require.NoError(t, err)
		_, err = s.Append(ctx, "req-b", types.EventToolProposed, json.RawMessage(`{}`), "corr-x")
		require.NoError(t, err)

		byReq, err := s.GetByRequestID(ctx, "req-a")
		require.NoError(t, err)
		require.Len(t, byReq, 1)

		byCorr, err := s.GetByCorrelationID(ctx, "corr-x")
		require.NoError(t, err)
		require.Len(t, byCorr, 2)
	})

	t.Run("FIFOEviction_PreservesIndexes", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			_, err := s.Append(ctx, "req-1", types.EventToolProposed, json.RawMessage(`{}`), "corr-1")
			require.NoError(t, err)
		}
		evicted, err := s.Evict(ctx, 4, 0)
		require.NoError(t, err)
		require.Equal(t, 6, evicted)

		size, err := s.Size(ctx)
		require.NoError(t, err)
		require.Equal(t, 4, size)

		byReq, err := s.GetByRequestID(ctx, "req-1")
		require.NoError(t, err)
		require.Len(t, byReq, 4)

		byCorr, err := s.GetByCorrelationID(ctx, "corr-1")
		require.NoError(t, err)
		require.Len(t, byCorr, 4)
	})

	t.Run("ClearResetsSequence", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		_, err := s.Append(ctx, "req-1", types.EventToolProposed, json.RawMessage(`{}`), "")
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx))

		seq, err := s.Append(ctx, "req-2", types.EventToolProposed, json.RawMessage(`{}`), "")
		require.NoError(t, err)
		require.Equal(t, int64(1), seq)
	})

	t.Run("GetRecent", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := s.Append(ctx, "req-1", types.EventToolProposed, json.RawMessage(`{}`), "")
			require.NoError(t, err)
		}
		recent, err := s.GetRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		require.Equal(t, int64(4), recent[0].SequenceID)
		require.Equal(t, int64(5), recent[1].SequenceID)
	})
}
