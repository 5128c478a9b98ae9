package converter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type hitsDocument struct {
	Hits []Hit `json:"hits"`
}

type looseHit struct {
	Time       float64 `json:"time"`
	Label      string  `json:"label"`
	OnsetIndex *int    `json:"onset_index"`
}

// MarshalHits encodes hits in the canonical {"hits": [...]} document
func MarshalHits(hits []Hit) ([]byte, error) {
	if hits == nil {
		hits = []Hit{}
	}
	return json.Marshal(hitsDocument{Hits: hits})
}

// UnmarshalHits decodes either the canonical document or a bare list of hits.
// Hits without an onset index take their position in the list.
func UnmarshalHits(data []byte) ([]Hit, error) {
	trimmed := bytes.TrimSpace(data)

	var loose []looseHit
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &loose); err != nil {
			return nil, fmt.Errorf("failed to parse hits: %w", err)
		}
	} else {
		var doc struct {
			Hits []looseHit `json:"hits"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse hits: %w", err)
		}
		loose = doc.Hits
	}

	hits := make([]Hit, len(loose))
	for i, h := range loose {
		idx := i
		if h.OnsetIndex != nil {
			idx = *h.OnsetIndex
		}
		hits[i] = Hit{Time: h.Time, Label: h.Label, OnsetIndex: idx}
	}
	return hits, nil
}
