package audit

import (
	"strings"
	"time"
)

// Snapshot aggregates recent gate events into health metrics. It is derived
// on demand and never persisted.
type Snapshot struct {
	Total           int            `json:"total"`
	PassCount       int            `json:"pass_count"`
	EscalateCount   int            `json:"escalate_count"`
	PassRatePct     float64        `json:"pass_rate_pct"`
	EscalateRatePct float64        `json:"escalate_rate_pct"`
	AvgConfidence   float64        `json:"avg_confidence"`
	LastQueries     []QuerySummary `json:"last_queries"`
}

// QuerySummary is a compact view of one gate event for status reporting.
type QuerySummary struct {
	Event      string    `json:"event"`
	Confidence float64   `json:"confidence,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

// GateMetrics re-reads the trail file and aggregates the most recent lastN
// gate events. The file, not this handle's cache, is consulted so events
// written by other processes are included.
func (t *Trail) GateMetrics(lastN int) (Snapshot, error) {
	entries, err := ReadAll(t.path)
	if err != nil {
		return emptySnapshot(), err
	}
	return ComputeGateMetrics(entries, lastN), nil
}

// GateMetricsFromFile aggregates gate metrics from the trail at path
// without needing a write handle. A missing or empty trail yields an
// all-zero snapshot, never an error for absence of data.
func GateMetricsFromFile(path string, lastN int) (Snapshot, error) {
	entries, err := ReadAll(path)
	if err != nil {
		return emptySnapshot(), err
	}
	return ComputeGateMetrics(entries, lastN), nil
}

// ComputeGateMetrics filters entries to gate_* events, keeps the most
// recent lastN, and computes the aggregates. A gate event counts as an
// escalation when it is a gate_escalate or carries a failure reason (a
// failed compress logs gate_compress with a reason and zero confidence).
// Confidence is normalized to 0–1 and averaged over passing entries.
func ComputeGateMetrics(entries []Entry, lastN int) Snapshot {
	var gates []Entry
	for _, e := range entries {
		if strings.HasPrefix(e.Event, "gate_") {
			gates = append(gates, e)
		}
	}
	if lastN > 0 && len(gates) > lastN {
		gates = gates[len(gates)-lastN:]
	}

	snap := emptySnapshot()
	if len(gates) == 0 {
		return snap
	}

	var confSum float64
	for _, e := range gates {
		conf := normalizeConfidence(e.Fields["confidence"])
		reason, _ := e.Fields["reason"].(string)

		if e.Event == "gate_escalate" || reason != "" {
			snap.EscalateCount++
		} else {
			snap.PassCount++
			confSum += conf
		}

		snap.LastQueries = append(snap.LastQueries, QuerySummary{
			Event:      e.Event,
			Confidence: conf,
			Reason:     reason,
			Timestamp:  e.Timestamp,
		})
	}

	snap.Total = len(gates)
	snap.PassRatePct = 100 * float64(snap.PassCount) / float64(snap.Total)
	snap.EscalateRatePct = 100 * float64(snap.EscalateCount) / float64(snap.Total)
	if snap.PassCount > 0 {
		snap.AvgConfidence = confSum / float64(snap.PassCount)
	}
	return snap
}

func emptySnapshot() Snapshot {
	return Snapshot{LastQueries: []QuerySummary{}}
}

// normalizeConfidence coerces a confidence field to a 0–1 float. Events
// logged with integer percentages (0–100) are scaled down; JSON decoding
// hands us float64, in-process callers may log int.
func normalizeConfidence(v any) float64 {
	var conf float64
	switch n := v.(type) {
	case float64:
		conf = n
	case float32:
		conf = float64(n)
	case int:
		conf = float64(n)
	case int64:
		conf = float64(n)
	default:
		return 0
	}
	if conf > 1.0 {
		conf /= 100
	}
	return conf
}
