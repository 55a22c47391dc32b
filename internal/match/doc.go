// Package match holds the review domain types: scenes, clip segments, movie
// candidates, and review classifications.
//
// Candidates without a server-assigned id get a derived identity (see
// DerivedID) so the same interval compares equal across fetches and process
// restarts. Corridor candidate lists are de-duplicated with Dedup.
package match
