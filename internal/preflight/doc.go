// Package preflight provides readiness checks for the filesystem paths and
// the ordering store that waitline depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and refuses to start when a required
//     check fails.
//   - The CLI "waitline status" command shows the same results when the
//     daemon is not reachable.
package preflight
