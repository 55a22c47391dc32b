package match

import (
	"fmt"
	"strings"
)

// ReviewStatus is the operator's classification of a segment's match.
type ReviewStatus string

const (
	ReviewUnset    ReviewStatus = ""
	ReviewOK       ReviewStatus = "ok"
	ReviewNeedTrim ReviewStatus = "needTrim"
	ReviewUnsure   ReviewStatus = "unsure"
	ReviewMismatch ReviewStatus = "mismatch"
)

// ReviewStatuses lists the settable classifications in display order.
var ReviewStatuses = []ReviewStatus{ReviewOK, ReviewNeedTrim, ReviewUnsure, ReviewMismatch}

// ParseReviewStatus accepts wire values case-insensitively, plus the
// need_trim spelling. "unset", "none" and "" map to ReviewUnset.
func ParseReviewStatus(value string) (ReviewStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "unset", "none":
		return ReviewUnset, nil
	case "ok":
		return ReviewOK, nil
	case "needtrim", "need_trim", "need-trim":
		return ReviewNeedTrim, nil
	case "unsure":
		return ReviewUnsure, nil
	case "mismatch":
		return ReviewMismatch, nil
	default:
		return ReviewUnset, fmt.Errorf("unknown review status %q", value)
	}
}

// Label returns a display label.
func (s ReviewStatus) Label() string {
	if s == ReviewUnset {
		return "unset"
	}
	return string(s)
}
