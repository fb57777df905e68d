// Package projection implements the Projection Rebuilder (C14): a pure
// function that derives per-request status summaries from a flat slice of
// Execution Events, with no dependency on the event store itself so it can
// be run offline against an export.
package projection

import (
	"goa.design/autonomy-kernel/kernel/types"
)

// RequestStatus enumerates a request's derived lifecycle outcome.
type RequestStatus string

const (
	StatusSucceeded  RequestStatus = "succeeded"
	StatusFailed     RequestStatus = "failed"
	StatusInProgress RequestStatus = "in_progress"
	StatusUnknown    RequestStatus = "unknown"
)

// RequestProjection summarizes one requestId's events.
type RequestProjection struct {
	RequestID                        string
	FirstSequenceID                  int64
	LastSequenceID                   int64
	EventCount                       int
	Status                           RequestStatus
	HasCompensation                  bool
	HasUnresolvedCompensationIncident bool
	HasVerificationFailure           bool
	HasCriticalInvariantViolation    bool
	CorrelationIDs                   []string
	LastError                        string
}

// RebuildAllRequestProjections groups events by RequestID and derives one
// RequestProjection per request, in no particular order.
func RebuildAllRequestProjections(events []types.Event) []RequestProjection {
	byRequest := make(map[string][]types.Event)
	order := make([]string, 0)
	for _, ev := range events {
		if _, seen := byRequest[ev.RequestID]; !seen {
			order = append(order, ev.RequestID)
		}
		byRequest[ev.RequestID] = append(byRequest[ev.RequestID], ev)
	}

	out := make([]RequestProjection, 0, len(order))
	for _, reqID := range order {
		out = append(out, projectOne(reqID, byRequest[reqID]))
	}
	return out
}

func projectOne(requestID string, events []types.Event) RequestProjection {
	p := RequestProjection{RequestID: requestID, Status: StatusUnknown}
	if len(events) == 0 {
		return p
	}

	p.FirstSequenceID = events[0].SequenceID
	p.LastSequenceID = events[0].SequenceID
	p.EventCount = len(events)

	correlations := make(map[string]bool)
	hasFailed := false
	hasVerified := false

	for _, ev := range events {
		if ev.SequenceID < p.FirstSequenceID {
			p.FirstSequenceID = ev.SequenceID
		}
		if ev.SequenceID > p.LastSequenceID {
			p.LastSequenceID = ev.SequenceID
		}
		if ev.CorrelationID != "" {
			correlations[ev.CorrelationID] = true
		}

		switch ev.Type {
		case types.EventToolFailed:
			hasFailed = true
			p.LastError = payloadString(ev.Payload, "error", "reason")
		case types.EventToolVerified:
			hasVerified = true
			if hasCriticalFailure(ev.Payload) {
				p.HasVerificationFailure = true
			}
		case types.EventInvariantsChecked:
			if hasCriticalFailure(ev.Payload) {
				p.HasCriticalInvariantViolation = true
			}
		case types.EventToolCompensated:
			p.HasCompensation = true
		case types.EventCompensationIncidentOpened:
			p.HasUnresolvedCompensationIncident = true
		}
	}

	for c := range correlations {
		p.CorrelationIDs = append(p.CorrelationIDs, c)
	}

	switch {
	case hasFailed:
		p.Status = StatusFailed
	case hasVerified:
		p.Status = StatusSucceeded
	default:
		p.Status = StatusInProgress
	}

	return p
}

// hasCriticalFailure sniffs a VerificationReport-shaped payload for its
// hasCriticalFailure flag without a full unmarshal, since the projection
// rebuilder only needs this one field and must not fail the whole rebuild
// on a payload shape it cannot parse.
func hasCriticalFailure(payload []byte) bool {
	var v struct {
		HasCriticalFailure bool `json:"HasCriticalFailure"`
	}
	if err := unmarshalLenient(payload, &v); err != nil {
		return false
	}
	return v.HasCriticalFailure
}

func payloadString(payload []byte, keys ...string) string {
	var v map[string]any
	if err := unmarshalLenient(payload, &v); err != nil {
		return ""
	}
	for _, k := range keys {
		if s, ok := v[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
