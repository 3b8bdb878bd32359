// Package queue implements the ordered waiting line.
//
// The Engine owns every mutation of queue entries. Each operation runs as one
// serializable transaction against a Store, keeps the ranks of waiting entries
// dense (1..N with no gaps or repeats), and calls the Notifier once the
// transaction has committed. Storage backends live under internal/store and
// only implement the Store and Tx contracts declared here.
//
// The store is the single source of truth: the engine keeps no rank state
// between calls and re-reads everything inside each transaction.
package queue
