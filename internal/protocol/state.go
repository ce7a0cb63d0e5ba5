package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/smukkama/glucose-stats/internal/tracker"
)

// EncodeState encodes a tracker state as a plain JSON document
func EncodeState(s tracker.State) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState decodes a JSON document produced by EncodeState. The decoded
// state must point at one of its own windows.
func DecodeState(data []byte) (tracker.State, error) {
	var s tracker.State
	if err := json.Unmarshal(data, &s); err != nil {
		return tracker.State{}, err
	}

	if _, err := tracker.GetCurrentStats(s); err != nil {
		return tracker.State{}, fmt.Errorf("decoded state: %w", err)
	}
	for label, w := range s.StatsByPeriod {
		if w.TimeStats == nil {
			w.TimeStats = tracker.TimeStats{}
			s.StatsByPeriod[label] = w
		}
	}
	if s.CategoryMode == "" {
		s.CategoryMode = tracker.CategoryShared
	}

	return s, nil
}
