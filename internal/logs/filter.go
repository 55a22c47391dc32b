package logs

import (
	"strconv"
	"strings"
)

// Filter selects log lines. The zero value matches everything.
type Filter struct {
	SegmentID int64
	Component string
}

// Empty reports whether f matches every line.
func (f Filter) Empty() bool {
	return f.SegmentID == 0 && strings.TrimSpace(f.Component) == ""
}

// Match reports whether line belongs to the filtered segment and component.
// Console lines carry "component: Segment #N"; JSON lines carry the
// component and segment_id keys.
func (f Filter) Match(line string) bool {
	if f.SegmentID != 0 {
		id := strconv.FormatInt(f.SegmentID, 10)
		if !strings.Contains(line, "Segment #"+id+" ") &&
			!strings.Contains(line, `"segment_id":`+id+",") &&
			!strings.Contains(line, `"segment_id":`+id+"}") {
			return false
		}
	}
	if component := strings.TrimSpace(f.Component); component != "" {
		if !strings.Contains(line, " "+component+": ") &&
			!strings.Contains(line, `"component":"`+component+`"`) {
			return false
		}
	}
	return true
}

func (f Filter) apply(lines []string) []string {
	if f.Empty() {
		return lines
	}
	out := lines[:0]
	for _, line := range lines {
		if f.Match(line) {
			out = append(out, line)
		}
	}
	return out
}
