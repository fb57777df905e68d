package eventstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"goa.design/autonomy-kernel/kernel/types"
)

// MemoryStore is the in-process Store: a single growable arena of events
// plus two secondary indexes (requestId -> sequenceIds, correlationId ->
// sequenceIds), all guarded by one mutex, matching the arena-plus-index
// shape the spec mandates for the event store.
type MemoryStore struct {
	mu          sync.Mutex
	events      []types.Event // ordered by sequenceId ascending; index 0 is the oldest live event
	nextSeq     int64
	lastHash    string
	byRequest   map[string][]int64
	byCorrelate map[string][]int64
	bySeq       map[int64]int // sequenceId -> index into events, maintained on evict
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextSeq:     1,
		byRequest:   make(map[string][]int64),
		byCorrelate: make(map[string][]int64),
		bySeq:       make(map[int64]int),
	}
}

func (s *MemoryStore) Append(_ context.Context, requestID string, typ types.EventType, payload json.RawMessage, correlationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq
	ts := time.Now()
	hash, err := hashChain(s.lastHash, seq, requestID, typ, payload, ts)
	if err != nil {
		return 0, err
	}

	ev := types.Event{
		SequenceID:    seq,
		RequestID:     requestID,
		Type:          typ,
		Payload:       payload,
		Timestamp:     ts,
		CorrelationID: correlationID,
		PrevHash:      s.lastHash,
		EventHash:     hash,
	}

	s.events = append(s.events, ev)
	s.bySeq[seq] = len(s.events) - 1
	s.byRequest[requestID] = append(s.byRequest[requestID], seq)
	if correlationID != "" {
		s.byCorrelate[correlationID] = append(s.byCorrelate[correlationID], seq)
	}

	s.lastHash = hash
	s.nextSeq++
	return seq, nil
}

func (s *MemoryStore) GetByRequestID(_ context.Context, requestID string) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(s.byRequest[requestID]), nil
}

func (s *MemoryStore) GetByCorrelationID(_ context.Context, correlationID string) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(s.byCorrelate[correlationID]), nil
}

// collect resolves sequence IDs to live events, skipping any already
// evicted, and returns them in ascending sequence order.
func (s *MemoryStore) collect(seqs []int64) []types.Event {
	out := make([]types.Event, 0, len(seqs))
	for _, seq := range seqs {
		if idx, ok := s.bySeq[seq]; ok {
			out = append(out, s.events[idx])
		}
	}
	return out
}

func (s *MemoryStore) GetRecent(_ context.Context, n int) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	start := len(s.events) - n
	out := make([]types.Event, n)
	copy(out, s.events[start:])
	return out, nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.nextSeq = 1
	s.lastHash = ""
	s.byRequest = make(map[string][]int64)
	s.byCorrelate = make(map[string][]int64)
	s.bySeq = make(map[int64]int)
	return nil
}

// Evict drops the oldest events beyond maxEvents (if maxEvents > 0) and any
// events older than retentionMs (if retentionMs > 0), rebuilding both
// secondary indexes so no dangling sequence IDs remain. Both bounds are
// evaluated against the same cutoff point: the store keeps whichever subset
// survives both constraints.
func (s *MemoryStore) Evict(_ context.Context, maxEvents int, retentionMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == 0 {
		return 0, nil
	}

	cutoffIdx := 0 // first index to KEEP

	if maxEvents > 0 && len(s.events) > maxEvents {
		cutoffIdx = len(s.events) - maxEvents
	}

	if retentionMs > 0 {
		cutoff := time.Now().Add(-time.Duration(retentionMs) * time.Millisecond)
		for i := cutoffIdx; i < len(s.events); i++ {
			if s.events[i].Timestamp.Before(cutoff) {
				cutoffIdx = i + 1
			} else {
				break
			}
		}
	}

	if cutoffIdx == 0 {
		return 0, nil
	}

	evicted := cutoffIdx
	s.events = append([]types.Event(nil), s.events[cutoffIdx:]...)

	s.bySeq = make(map[int64]int, len(s.events))
	for i, ev := range s.events {
		s.bySeq[ev.SequenceID] = i
	}

	s.byRequest = pruneIndex(s.byRequest, s.bySeq)
	s.byCorrelate = pruneIndex(s.byCorrelate, s.bySeq)

	return evicted, nil
}

// pruneIndex rebuilds a secondary index, dropping sequence IDs that no
// longer have a live event, so eviction never leaves a dangling entry.
func pruneIndex(idx map[string][]int64, live map[int64]int) map[string][]int64 {
	out := make(map[string][]int64, len(idx))
	for key, seqs := range idx {
		var kept []int64
		for _, seq := range seqs {
			if _, ok := live[seq]; ok {
				kept = append(kept, seq)
			}
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out
}
