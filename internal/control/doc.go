// Package control serves the local activation endpoint. A desktop handler
// for matchreview:// links posts the link here and the running session opens
// the project; the remaining routes let scripts inspect and drive the
// selection without going through the CLI.
//
// Only one server may run per state directory; Start takes a file lock next
// to the journal and refuses to run when another instance holds it.
package control
