// Package cache memoizes query results behind a link.
//
// The cache link derives a deterministic tag from an operation's path, input
// and selected request-context values, executes the procedure through a
// get-or-compute Store keyed by that tag, and replays the stored bytes through
// the chain. Stores expire entries by revalidate window and drop them by tag.
//
// MemoryStore and SQLiteStore implement Store; hosts with their own cache
// layer implement the two-method interface directly.
package cache
