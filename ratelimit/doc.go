// Package ratelimit implements a fixed-window request counter persisted in a
// kvstore.Store.
//
// Windows are aligned to the epoch: the window containing now starts at
// floor(now / window) * window. State older than the current window is read
// as a zero count, so no write is ever needed to reset a counter, and every
// write carries a TTL of window + 1s so stale windows expire on their own.
//
// The default mode reads the state, decides and writes it back. Two callers
// racing on the same key can both be admitted, so the per-window bound is
// approximate. When the store implements kvstore.Counter and Config.Atomic is
// set, counts live under window scoped keys and are incremented atomically,
// which makes the bound exact.
package ratelimit
