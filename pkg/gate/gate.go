// Package gate implements the quality gate workers apply to task output
// before accepting it. Every decision is a gate event in the audit trail;
// the derived pass rate is the pool's primary health signal.
package gate

import (
	"strings"

	"vivarium/pkg/audit"
)

// DefaultConfidenceThreshold is the minimum confidence for a pass.
const DefaultConfidenceThreshold = 0.75

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Pass       bool
	Confidence float64 // 0–1
	Reason     string  // set when the gate did not pass
}

// Gate scores task output against a confidence threshold.
type Gate struct {
	threshold float64
	trail     *audit.Trail
}

// New creates a Gate. A threshold <= 0 uses the default.
func New(threshold float64, trail *audit.Trail) *Gate {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Gate{threshold: threshold, trail: trail}
}

// Evaluate scores the output of taskID and records the decision. Empty
// output is a failed compress; output below the threshold escalates.
// Confidence is logged as an integer percentage.
func (g *Gate) Evaluate(taskID, output string) Decision {
	conf := scoreOutput(output)

	switch {
	case strings.TrimSpace(output) == "":
		g.trail.Log("gate_compress", audit.Fields{
			"task_id":    taskID,
			"reason":     "empty_result",
			"confidence": 0,
		})
		return Decision{Reason: "empty_result"}
	case conf < g.threshold:
		g.trail.Log("gate_escalate", audit.Fields{
			"task_id":    taskID,
			"reason":     "low_confidence",
			"confidence": int(conf * 100),
		})
		return Decision{Confidence: conf, Reason: "low_confidence"}
	default:
		g.trail.Log("gate_compress", audit.Fields{
			"task_id":    taskID,
			"confidence": int(conf * 100),
		})
		return Decision{Pass: true, Confidence: conf}
	}
}

// scoreOutput is a deterministic confidence heuristic: longer output scores
// higher, error markers halve the score. Capped below 1 so the gate never
// claims certainty.
func scoreOutput(output string) float64 {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return 0
	}

	conf := 0.5 + float64(len(trimmed))/1024
	if conf > 0.98 {
		conf = 0.98
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range []string{"error:", "traceback", "panic:"} {
		if strings.Contains(lower, marker) {
			conf /= 2
			break
		}
	}
	return conf
}
