// Package buckets caches ranked candidate lists per segment.
//
// A miss issues one summary request that returns every bucket (top, scene
// neighborhood, corridor, all) for the segment; later reads of any bucket for
// that segment are served from memory until Invalidate is called, which the
// session does whenever an apply changes the segment's anchor.
package buckets
