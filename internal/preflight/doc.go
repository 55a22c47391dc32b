// Package preflight provides readiness checks for the backend service,
// local directories, and external binaries that matchreview depends on.
//
// The CLI "matchreview doctor" command runs RunAll and prints one line per
// check; "matchreview serve" runs CheckBackend before taking the instance
// lock so a misconfigured base URL is reported up front.
package preflight
