package gateway

import "matchreview/internal/match"

// OpenProjectRequest is the body of POST /project/open.
type OpenProjectRequest struct {
	Root  string `json:"root"`
	Movie string `json:"movie,omitempty"`
	Clip  string `json:"clip,omitempty"`
}

// Change is one entry of an apply request.
type Change struct {
	SegmentID int64           `json:"seg_id"`
	Chosen    match.Candidate `json:"chosen"`
}

// CandidateQuery parameterizes GET /candidates.
type CandidateQuery struct {
	Mode   string
	K      int
	Offset int
}

// SummaryQuery parameterizes GET /candidates/summary.
type SummaryQuery struct {
	Span   int
	K      int
	Offset int
}

// Corridor is the anchor-relative candidate corridor. The summary endpoint
// calls the anchor list "current"; the standalone endpoint calls it "anchors".
type Corridor struct {
	Prev    []match.Candidate `json:"prev"`
	Current []match.Candidate `json:"current"`
	Next    []match.Candidate `json:"next"`
}

// Flatten concatenates prev, current and next in that order without de-duplication.
func (c Corridor) Flatten() []match.Candidate {
	out := make([]match.Candidate, 0, len(c.Prev)+len(c.Current)+len(c.Next))
	out = append(out, c.Prev...)
	out = append(out, c.Current...)
	out = append(out, c.Next...)
	return out
}

// Summary bundles every candidate bucket for one segment.
type Summary struct {
	Top          []match.Candidate `json:"top"`
	Scene        []match.Candidate `json:"scene"`
	All          []match.Candidate `json:"all"`
	Corridor     Corridor          `json:"corridor"`
	Neighborhood []match.Candidate `json:"neighborhood"`
}

type envelope struct {
	OK *bool `json:"ok"`
}

func (e envelope) failed() bool {
	return e.OK != nil && !*e.OK
}

type scenesResponse struct {
	Scenes []match.Scene `json:"scenes"`
}

type itemsResponse struct {
	envelope
	SegmentID *int64            `json:"seg_id,omitempty"`
	Items     []match.Candidate `json:"items"`
}

type corridorResponse struct {
	Prev    []match.Candidate `json:"prev"`
	Next    []match.Candidate `json:"next"`
	Anchors []match.Candidate `json:"anchors"`
}

type applyRequest struct {
	Changes []Change `json:"changes"`
}

type overridesResponse struct {
	Data map[string]match.Candidate `json:"data"`
}

type reviewUpdateRequest struct {
	SegmentID int64  `json:"seg_id"`
	Status    string `json:"status"`
}

type reviewStateResponse struct {
	Segs map[string]struct {
		Status string `json:"status"`
	} `json:"segs"`
}
