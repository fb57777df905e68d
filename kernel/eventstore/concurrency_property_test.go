package eventstore_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/types"
)

// TestAppend_ConcurrentOrderingAndHashChain verifies two properties at once
// under concurrent writers: sequence IDs are a gapless permutation of
// 1..N (P1, ordering under concurrency), and every appended event's own
// hash is independently verifiable regardless of how the writers
// interleaved (P2, hash chain verifiability).
func TestAppend_ConcurrentOrderingAndHashChain(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent appends yield a gapless sequence with a verifiable chain", prop.ForAll(
		func(writerCount, perWriter int) bool {
			s := eventstore.NewMemoryStore()
			ctx := context.Background()

			var wg sync.WaitGroup
			for w := 0; w < writerCount; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						_, err := s.Append(ctx, "req-concurrent", types.EventToolProposed, json.RawMessage(`{}`), "")
						if err != nil {
							return
						}
					}
				}(w)
			}
			wg.Wait()

			total := writerCount * perWriter
			events, err := s.GetRecent(ctx, 0)
			if err != nil || len(events) != total {
				return false
			}

			seen := make(map[int64]bool, total)
			for _, ev := range events {
				if seen[ev.SequenceID] {
					return false
				}
				seen[ev.SequenceID] = true
				ok, err := eventstore.VerifyEventHash(ev)
				if err != nil || !ok {
					return false
				}
			}
			for i := int64(1); i <= int64(total); i++ {
				if !seen[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestVerifyEventHash_DetectsTampering(t *testing.T) {
	s := eventstore.NewMemoryStore()
	ctx := context.Background()
	_, err := s.Append(ctx, "req-1", types.EventToolProposed, json.RawMessage(`{"a":1}`), "")
	require.NoError(t, err)

	events, err := s.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ok, err := eventstore.VerifyEventHash(events[0])
	require.NoError(t, err)
	require.True(t, ok)

	tampered := events[0]
	tampered.Payload = json.RawMessage(`{"a":2}`)
	ok, err = eventstore.VerifyEventHash(tampered)
	require.NoError(t, err)
	require.False(t, ok)
}
