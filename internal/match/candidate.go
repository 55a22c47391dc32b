package match

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Candidate is a proposed matching interval in the reference movie.
type Candidate struct {
	ID         *int64   `json:"seg_id,omitempty"`
	SceneIndex *int     `json:"scene_seg_idx,omitempty"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	SceneID    *int64   `json:"scene_id,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	FaissID    *int64   `json:"faiss_id,omitempty"`
	MovieID    *FlexID  `json:"movie_id,omitempty"`
	ShotID     *FlexID  `json:"shot_id,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// Range returns the candidate's movie interval.
func (c Candidate) Range() TimeRange {
	return TimeRange{Start: c.Start, End: c.End}
}

// Identity returns the explicit id when present, otherwise DerivedID.
func (c Candidate) Identity() int64 {
	if c.ID != nil {
		return *c.ID
	}
	return DerivedID(c)
}

// Same reports whether two candidates describe the same interval.
func (c Candidate) Same(other Candidate) bool {
	return c.Identity() == other.Identity()
}

// Clone returns a deep copy.
func (c Candidate) Clone() Candidate {
	out := c
	if c.ID != nil {
		v := *c.ID
		out.ID = &v
	}
	if c.SceneIndex != nil {
		v := *c.SceneIndex
		out.SceneIndex = &v
	}
	if c.SceneID != nil {
		v := *c.SceneID
		out.SceneID = &v
	}
	if c.Score != nil {
		v := *c.Score
		out.Score = &v
	}
	if c.FaissID != nil {
		v := *c.FaissID
		out.FaissID = &v
	}
	if c.MovieID != nil {
		v := *c.MovieID
		out.MovieID = &v
	}
	if c.ShotID != nil {
		v := *c.ShotID
		out.ShotID = &v
	}
	return out
}

func (c Candidate) String() string {
	id := "-"
	if c.ID != nil {
		id = strconv.FormatInt(*c.ID, 10)
	}
	return fmt.Sprintf("candidate(%s %s)", id, c.Range())
}

// Milliseconds rounds seconds to whole milliseconds.
func Milliseconds(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

const derivedMask = 0x3FFFFFFFFFFFFFFF

// DerivedID computes a deterministic identity for candidates without a server
// id from (scene id, within-scene index, start rounded to milliseconds). The
// result is always negative so it cannot collide with a server-assigned id.
func DerivedID(c Candidate) int64 {
	var scene, idx uint64
	if c.SceneID != nil {
		scene = uint64(*c.SceneID)
	}
	if c.SceneIndex != nil {
		idx = uint64(*c.SceneIndex)
	}
	ms := uint64(Milliseconds(c.Start))
	h := (scene << 40) ^ (idx << 24) ^ ms
	return -int64(h&derivedMask) - 1
}

// DedupKey identifies a candidate in corridor lists.
type DedupKey struct {
	ID      int64
	StartMS int64
	EndMS   int64
}

// KeyOf builds the corridor de-duplication key; an absent id packs as -1.
func KeyOf(c Candidate) DedupKey {
	id := int64(-1)
	if c.ID != nil {
		id = *c.ID
	}
	return DedupKey{ID: id, StartMS: Milliseconds(c.Start), EndMS: Milliseconds(c.End)}
}

// Dedup removes repeated candidates keeping the first occurrence.
func Dedup(list []Candidate) []Candidate {
	if len(list) == 0 {
		return []Candidate{}
	}
	seen := make(map[DedupKey]struct{}, len(list))
	out := make([]Candidate, 0, len(list))
	for _, c := range list {
		key := KeyOf(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FlexID holds an external identifier the backend may send as a JSON string or number.
type FlexID string

// UnmarshalJSON accepts both quoted and bare numeric identifiers.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex id: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// MarshalJSON emits the identifier as a string.
func (f FlexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}
