// Package logs reads matchreview.log for the `matchreview logs` command.
//
// Tail returns the last N lines (negative offset) or everything after a byte
// offset, optionally waiting for new lines in follow mode. A Filter narrows
// output to one segment or component; it understands both the console and
// JSON log formats.
package logs
