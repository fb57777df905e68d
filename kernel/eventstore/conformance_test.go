package eventstore_test

import (
	"context"
	"encoding/json"
	"testing"

	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/eventstore/eventstoretest"
	"goa.design/autonomy-kernel/kernel/types"
)

func TestMemoryStore_Conformance(t *testing.T) {
	eventstoretest.Run(t, func() eventstore.Store {
		return eventstore.NewMemoryStore()
	})
}

func TestConformance_AppendOnly_NoMutationAPI(t *testing.T) {
	// Store exposes no update/delete method; this test documents that
	// guarantee by construction rather than by reflection.
	var _ interface {
		Append(context.Context, string, types.EventType, json.RawMessage, string) (int64, error)
		GetByRequestID(context.Context, string) ([]types.Event, error)
		GetByCorrelationID(context.Context, string) ([]types.Event, error)
		GetRecent(context.Context, int) ([]types.Event, error)
		Size(context.Context) (int, error)
		Clear(context.Context) error
		Evict(context.Context, int, int64) (int, error)
	} = eventstore.NewMemoryStore()
}
