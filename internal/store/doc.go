// Package store keeps the history of harness runs in SQLite.
//
// Each run is one row in runs; each test case of the run is one row in
// cases, keyed by (run_id, seq) where seq is the case's position in the
// batch. Cases that reached CHECKING also carry their directives as
// canonical JSON and the directive fingerprint, so a change in what a test
// expects shows up as a changed fingerprint across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
