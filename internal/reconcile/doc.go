// Package reconcile merges the server match, operator overrides and ranked
// candidates into one effective match per segment, and annotates the ordered
// segment list with continuity islands and spike anomalies.
package reconcile
