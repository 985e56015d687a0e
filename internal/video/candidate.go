package video

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Candidate is one match returned by video search.
type Candidate struct {
	RecordingID string   `json:"video_no,omitempty"`
	Timestamp   *int64   `json:"timestamp,omitempty"` // ms since epoch
	Confidence  *float64 `json:"score,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
}

// UnmarshalJSON accepts either spelling the search service has used for each
// field and normalizes it:
//
//	videoNo   | video_no
//	score     | confidence
//	timestamp | time
//
// The first spelling wins when both carry a value; null and "" count as
// missing.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding candidate: %w", err)
	}

	*c = Candidate{}

	if v, ok := first(raw, "videoNo", "video_no"); ok {
		id, err := decodeString(v)
		if err != nil {
			return fmt.Errorf("decoding candidate recording id: %w", err)
		}
		c.RecordingID = id
	}

	if v, ok := first(raw, "timestamp", "time"); ok {
		f, present, err := decodeNumber(v)
		if err != nil {
			return fmt.Errorf("decoding candidate timestamp: %w", err)
		}
		if present {
			ts := int64(f)
			c.Timestamp = &ts
		}
	}

	if v, ok := first(raw, "score", "confidence"); ok {
		f, present, err := decodeNumber(v)
		if err != nil {
			return fmt.Errorf("decoding candidate score: %w", err)
		}
		if present {
			c.Confidence = &f
		}
	}

	if v, ok := raw["snippet"]; ok {
		s, err := decodeString(v)
		if err != nil {
			return fmt.Errorf("decoding candidate snippet: %w", err)
		}
		c.Snippet = s
	}

	return nil
}

// first returns the first key present with a non-empty value.
func first(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && !isEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

func isEmpty(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

// decodeCandidates decodes a search response array element by element.
// Elements that fail to decode are skipped and reported in skipped; a
// payload that is not an array is an error.
func decodeCandidates(body []byte) (candidates []Candidate, skipped []error, err error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, nil, err
	}

	candidates = make([]Candidate, 0, len(items))
	for i, item := range items {
		var c Candidate
		if err := json.Unmarshal(item, &c); err != nil {
			skipped = append(skipped, fmt.Errorf("candidate %d: %w", i, err))
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, skipped, nil
}

// decodeString accepts a JSON string or number.
func decodeString(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// decodeNumber accepts a JSON number or a numeric string. An empty string
// counts as absent.
func decodeNumber(v json.RawMessage) (float64, bool, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false, err
	}
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}
