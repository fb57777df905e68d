package projection_test

import (
	"encoding/json"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/autonomy-kernel/kernel/projection"
	"goa.design/autonomy-kernel/kernel/types"
)

// fixedEventSet builds a deterministic, sequence-ordered event history
// across a handful of requests, exercising the failure, verification,
// compensation and incident branches projectOne switches on (it holds no
// invariants event) so permuting it actually stresses the aggregation.
func fixedEventSet() []types.Event {
	base := time.Unix(1700000000, 0)
	mk := func(seq int64, reqID string, typ types.EventType, payload string, corr string) types.Event {
		return types.Event{
			SequenceID: seq, RequestID: reqID, Type: typ,
			Payload: json.RawMessage(payload), Timestamp: base.Add(time.Duration(seq) * time.Second),
			CorrelationID: corr,
		}
	}
	return []types.Event{
		mk(1, "r1", types.EventToolProposed, `{}`, "c1"),
		mk(2, "r1", types.EventToolValidated, `{}`, "c1"),
		mk(3, "r1", types.EventToolExecuting, `{}`, "c1"),
		mk(4, "r1", types.EventToolExecuted, `{}`, "c1"),
		mk(5, "r1", types.EventToolVerified, `{"HasCriticalFailure":false}`, "c1"),

		mk(6, "r2", types.EventToolProposed, `{}`, "c2"),
		mk(7, "r2", types.EventToolValidated, `{}`, "c2"),
		mk(8, "r2", types.EventToolExecuting, `{}`, "c2"),
		mk(9, "r2", types.EventToolExecuted, `{}`, "c2"),
		mk(10, "r2", types.EventToolVerified, `{"HasCriticalFailure":true}`, "c2"),
		mk(11, "r2", types.EventToolCompensated, `{}`, "c2"),
		mk(12, "r2", types.EventCompensationIncidentOpened, `{}`, "c2"),
		mk(13, "r2", types.EventToolFailed, `{"error":"compensation incident"}`, "c2"),

		mk(14, "r3", types.EventToolProposed, `{}`, "c3"),
		mk(15, "r3", types.EventToolValidated, `{}`, "c3"),
	}
}

// sortedProjections normalizes RebuildAllRequestProjections's output for
// comparison across permutations of the input: it sorts requests by
// RequestID, since they come out in first-appearance order, which a
// permutation changes, and each request's CorrelationIDs, which are built
// off map iteration.
func sortedProjections(events []types.Event) []projection.RequestProjection {
	out := projection.RebuildAllRequestProjections(events)
	for i := range out {
		sort.Strings(out[i].CorrelationIDs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

// TestRebuildAllRequestProjections_PermutationInvariant is P10: the
// projection rebuilder is a pure function, so any permutation of the same
// event set yields an identical per-request projection.
func TestRebuildAllRequestProjections_PermutationInvariant(t *testing.T) {
	events := fixedEventSet()
	want := sortedProjections(events)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("permuting the input event slice does not change the derived projections", prop.ForAll(
		func(seed int64) bool {
			shuffled := append([]types.Event(nil), events...)
			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			got := sortedProjections(shuffled)
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if !projectionsEqual(want[i], got[i]) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func projectionsEqual(a, b projection.RequestProjection) bool {
	if a.RequestID != b.RequestID || a.FirstSequenceID != b.FirstSequenceID ||
		a.LastSequenceID != b.LastSequenceID || a.EventCount != b.EventCount ||
		a.Status != b.Status || a.HasCompensation != b.HasCompensation ||
		a.HasUnresolvedCompensationIncident != b.HasUnresolvedCompensationIncident ||
		a.HasVerificationFailure != b.HasVerificationFailure ||
		a.HasCriticalInvariantViolation != b.HasCriticalInvariantViolation ||
		a.LastError != b.LastError {
		return false
	}
	if len(a.CorrelationIDs) != len(b.CorrelationIDs) {
		return false
	}
	for i := range a.CorrelationIDs {
		if a.CorrelationIDs[i] != b.CorrelationIDs[i] {
			return false
		}
	}
	return true
}
