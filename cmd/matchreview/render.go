package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"matchreview/internal/match"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	return paint(base, statusKindColor(kind), colorize)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	return []string{paint(line, ansiBlue, colorize), paint(rule, ansiBlue, colorize)}
}

// reviewCell renders a review status; stale reviews get a trailing "*".
func reviewCell(status match.ReviewStatus, stale bool, colorize bool) string {
	label := "-"
	if status != match.ReviewUnset {
		label = status.Label()
	}
	if stale {
		label += "*"
	}
	var color string
	switch status {
	case match.ReviewOK:
		color = ansiGreen
	case match.ReviewNeedTrim, match.ReviewUnsure:
		color = ansiYellow
	case match.ReviewMismatch:
		color = ansiRed
	}
	if stale {
		color = ansiYellow
	}
	return paint(label, color, colorize)
}

func markerCell(on bool, mark, color string, colorize bool) string {
	if !on {
		return ""
	}
	return paint(mark, color, colorize)
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" || s == "" {
		return s
	}
	return color + s + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatRange(r match.TimeRange) string {
	return fmt.Sprintf("%.3f-%.3f", r.Start, r.End)
}

func formatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}
