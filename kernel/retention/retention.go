// Package retention implements the Retention Manager (C13): it exports
// expired records before eviction and reports a compliance summary,
// matching the teacher's runlog/transcript NDJSON export convention.
package retention

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/types"
)

// ExportedRecord is one event extended with the retention metadata
// retention exports carry in addition to the plain event schema.
type ExportedRecord struct {
	types.Event
	RetainUntil time.Time `json:"retainUntil"`
	ExportedAt  time.Time `json:"exportedAt"`
}

// ComplianceSummary reports aggregate retention state of the stored events.
type ComplianceSummary struct {
	TotalEvents int
	OldestRetainUntil time.Time
	NewestRetainUntil time.Time
}

// Manager is the Retention Manager, bound to one event store.
type Manager struct {
	Events eventstore.Store
	Config config.RetentionConfig
}

// New constructs a Manager.
func New(events eventstore.Store, cfg config.RetentionConfig) *Manager {
	return &Manager{Events: events, Config: cfg}
}

// ExportExpired returns every currently stored event whose retainUntil
// (CreatedAt + eventRetentionMs) has passed, as ExportedRecords.
func (m *Manager) ExportExpired(ctx context.Context) ([]ExportedRecord, error) {
	recent, err := m.Events.GetRecent(ctx, 0)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	retainFor := time.Duration(m.Config.EventRetentionMs) * time.Millisecond

	var out []ExportedRecord
	for _, ev := range recent {
		retainUntil := ev.Timestamp.Add(retainFor)
		if retainUntil.After(now) {
			continue
		}
		out = append(out, ExportedRecord{Event: ev, RetainUntil: retainUntil, ExportedAt: now})
	}
	return out, nil
}

// EvictExpired removes events older than eventRetentionMs from the event
// store (FIFO bound disabled; only the age bound applies here, the Event
// Store's own maxEvents bound is an orthogonal concern) and returns the
// count evicted. When ExportBeforeEviction is set, the caller is expected
// to have already called ExportExpired before calling EvictExpired.
func (m *Manager) EvictExpired(ctx context.Context) (int, error) {
	return m.Events.Evict(ctx, 0, m.Config.EventRetentionMs)
}

// ExportThenEvict runs the mandated export-before-eviction ordering in one
// call when ExportBeforeEviction is true; otherwise it evicts directly
// without exporting.
func (m *Manager) ExportThenEvict(ctx context.Context, w io.Writer) (exported []ExportedRecord, evicted int, err error) {
	if m.Config.ExportBeforeEviction {
		exported, err = m.ExportExpired(ctx)
		if err != nil {
			return nil, 0, err
		}
		if w != nil {
			if err := writeExportNDJSON(w, exported); err != nil {
				return exported, 0, err
			}
		}
	}
	evicted, err = m.EvictExpired(ctx)
	return exported, evicted, err
}

// GetComplianceSummary reports the total event count and the oldest/newest
// retainUntil across currently stored events.
func (m *Manager) GetComplianceSummary(ctx context.Context) (ComplianceSummary, error) {
	recent, err := m.Events.GetRecent(ctx, 0)
	if err != nil {
		return ComplianceSummary{}, err
	}
	if len(recent) == 0 {
		return ComplianceSummary{}, nil
	}
	retainFor := time.Duration(m.Config.EventRetentionMs) * time.Millisecond
	summary := ComplianceSummary{TotalEvents: len(recent)}
	for i, ev := range recent {
		retainUntil := ev.Timestamp.Add(retainFor)
		if i == 0 || retainUntil.Before(summary.OldestRetainUntil) {
			summary.OldestRetainUntil = retainUntil
		}
		if i == 0 || retainUntil.After(summary.NewestRetainUntil) {
			summary.NewestRetainUntil = retainUntil
		}
	}
	return summary, nil
}

func writeExportNDJSON(w io.Writer, records []ExportedRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return bw.Flush()
}
