// Command matchreview is the operator CLI for reviewing clip-to-movie
// segment matches.
//
// Commands act on the most recently opened project unless --root is given:
// `matchreview open /data/show` loads and remembers a project, after which
// `segments`, `candidates`, `apply`, `review`, `play` and `history` work
// against it. `serve` keeps a session alive behind a local HTTP endpoint so
// matchreview:// links can open projects, and `open-url` hands a link to it.
package main
