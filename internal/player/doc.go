// Package player drives two media sources, a clip and a movie, over their own
// time windows and keeps them paired.
//
// Controller polls each playing source on a ticker and compares its position
// against the end of its range. What happens at a boundary depends on the
// policy: under Joint both sources wait for each other and restart together;
// under Independent each source restarts on its own. Both policies draw from a
// single restart budget of LoopCount-1.
//
// Each PlayPair call opens a new generation. Ticks and watches from an older
// generation are ignored, so a previous session's boundaries can never act on
// the new ranges.
package player
