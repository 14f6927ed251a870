// Package request tracks identifiers a node has asked its neighbours for.
//
// A Tracker remembers, for every awaited key, which peers were asked, when
// the first and the last attempts were made and how many attempts there were.
// Request sends at most one wave of requests per RetryInterval for a given
// key, however many goroutines ask for it concurrently. Receive clears the
// entry when the data arrives. Sweep, run periodically by Run, re-issues
// entries whose window has elapsed and abandons those that exhausted their
// RetryCeiling or RequestTimeout.
//
// Abandonment is not an error: it is logged and counted.
package request
