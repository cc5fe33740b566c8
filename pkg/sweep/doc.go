// Package sweep runs the background TTL reaper for expired working copies,
// whose default lifetime is 24 hours. It is started by engine.Initialize
// and stopped by Shutdown.
//
// The background loop runs on a jittered interval rather than a fixed
// ticker, to avoid every sweeper in a fleet waking in lockstep. Each cycle
// lists expiry candidates, then reaps them, the same list-then-reap shape
// any TTL cleaner follows, adapted here to EphemeralDB's bbolt-backed
// working copies.
package sweep
