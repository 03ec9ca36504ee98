package service

// ConfidenceGate decides whether retrieval found enough support to attempt
// generation.
type ConfidenceGate struct {
	defaultThreshold float64
}

// NewConfidenceGate creates a gate with the given default threshold
// (spec default 0.58).
func NewConfidenceGate(defaultThreshold float64) *ConfidenceGate {
	return &ConfidenceGate{defaultThreshold: defaultThreshold}
}

// Decide refuses when topScore is below threshold. A zero threshold falls
// back to the gate's configured default, allowing a per-request narrow
// override (spec §4.9) without requiring every caller to pass one.
func (g *ConfidenceGate) Decide(topScore float64, threshold float64) (allow bool) {
	if threshold == 0 {
		threshold = g.defaultThreshold
	}
	return topScore >= threshold
}
