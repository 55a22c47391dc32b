// Package journal persists a local history of review work in SQLite: the
// projects that were opened and every apply or review classification that the
// backend accepted. The backend remains the source of truth; the journal only
// answers "what did I do here last time".
package journal
