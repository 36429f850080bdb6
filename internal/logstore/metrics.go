package logstore

import (
	"encoding/json"
	"fmt"
	"math"
)

// Metrics maps a metric name to its value. A missing measurement is an
// explicit NaN marker rather than an absent key, so downstream aggregation
// can tell "not measured" apart from "routine never ran".
type Metrics map[string]float64

// Missing returns the explicit missing-value marker.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the missing-value marker.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// AllMissing reports whether every value carries the missing marker.
// An empty map counts as all-missing.
func (m Metrics) AllMissing() bool {
	for _, v := range m {
		if !IsMissing(v) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes missing markers as JSON null; plain float64 values
// would otherwise fail to serialize as NaN.
func (m Metrics) MarshalJSON() ([]byte, error) {
	raw := make(map[string]*float64, len(m))
	for k, v := range m {
		if IsMissing(v) {
			raw[k] = nil
			continue
		}
		val := v
		raw[k] = &val
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes JSON null back into the missing marker.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode metrics: %w", err)
	}
	out := make(Metrics, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = Missing()
			continue
		}
		out[k] = *v
	}
	*m = out
	return nil
}
