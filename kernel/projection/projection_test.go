package projection_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/projection"
	"goa.design/autonomy-kernel/kernel/types"
)

func TestRebuildAllRequestProjections_Succeeded(t *testing.T) {
	events := []types.Event{
		{SequenceID: 1, RequestID: "req-1", Type: types.EventToolProposed},
		{SequenceID: 2, RequestID: "req-1", Type: types.EventToolValidated},
		{SequenceID: 3, RequestID: "req-1", Type: types.EventToolVerified, Payload: json.RawMessage(`{"HasCriticalFailure":false}`)},
	}
	projections := projection.RebuildAllRequestProjections(events)
	require.Len(t, projections, 1)
	require.Equal(t, projection.StatusSucceeded, projections[0].Status)
	require.Equal(t, int64(1), projections[0].FirstSequenceID)
	require.Equal(t, int64(3), projections[0].LastSequenceID)
}

func TestRebuildAllRequestProjections_Failed(t *testing.T) {
	events := []types.Event{
		{SequenceID: 1, RequestID: "req-1", Type: types.EventToolProposed},
		{SequenceID: 2, RequestID: "req-1", Type: types.EventToolFailed, Payload: json.RawMessage(`{"reason":"timeout"}`)},
	}
	projections := projection.RebuildAllRequestProjections(events)
	require.Equal(t, projection.StatusFailed, projections[0].Status)
	require.Equal(t, "timeout", projections[0].LastError)
}

func TestRebuildAllRequestProjections_InProgress(t *testing.T) {
	events := []types.Event{
		{SequenceID: 1, RequestID: "req-1", Type: types.EventToolProposed},
	}
	projections := projection.RebuildAllRequestProjections(events)
	require.Equal(t, projection.StatusInProgress, projections[0].Status)
}

func TestRebuildAllRequestProjections_GroupsByRequestAndCorrelation(t *testing.T) {
	events := []types.Event{
		{SequenceID: 1, RequestID: "req-1", CorrelationID: "corr-a", Type: types.EventToolProposed},
		{SequenceID: 2, RequestID: "req-2", CorrelationID: "corr-a", Type: types.EventToolProposed},
	}
	projections := projection.RebuildAllRequestProjections(events)
	require.Len(t, projections, 2)
	for _, p := range projections {
		require.Equal(t, []string{"corr-a"}, p.CorrelationIDs)
	}
}
