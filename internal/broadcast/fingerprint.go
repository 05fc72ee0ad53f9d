package broadcast

import (
	"encoding/json"
	"hash/fnv"

	"github.com/courtside/volley-live-backend/internal/store"
)

// fingerprint maps each published field to a hash of its JSON encoding.
// Comparing two fingerprints field by field yields the minimal patch.
type fingerprint map[string]uint64

// documentFields flattens a snapshot into top-level document fields so the
// store can patch each one independently.
func documentFields(snap Snapshot) store.Fields {
	return store.Fields{
		"status":       snap.Status,
		"config":       snap.Config,
		"currentSet":   snap.CurrentSet,
		"scores":       snap.Scores,
		"setsWon":      snap.SetsWon,
		"serving":      snap.Serving,
		"rallyPhase":   snap.RallyPhase,
		"rotation":     snap.Rotation,
		"roster":       snap.Roster,
		"events":       snap.Events,
		"history":      snap.History,
		"timeoutsLeft": snap.TimeoutsLeft,
		"subsLeft":     snap.SubsLeft,
	}
}

func fingerprintOf(fields store.Fields) fingerprint {
	fp := make(fingerprint, len(fields))
	for name, value := range fields {
		fp[name] = hashValue(value)
	}
	return fp
}

// diff returns the fields whose fingerprint changed since prev. Fields absent
// from prev count as changed.
func (fp fingerprint) diff(prev fingerprint, fields store.Fields) store.Fields {
	changed := store.Fields{}
	for name, h := range fp {
		if old, ok := prev[name]; !ok || old != h {
			changed[name] = fields[name]
		}
	}
	return changed
}

// hashValue fingerprints via the JSON encoding, which is deterministic for
// the snapshot's types (maps marshal with sorted keys).
func hashValue(v any) uint64 {
	raw, err := json.Marshal(v)
	if err != nil {
		// Snapshot fields are plain data and always marshal.
		return 0
	}
	h := fnv.New64a()
	h.Write(raw)
	return h.Sum64()
}
