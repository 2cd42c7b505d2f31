// Package broadcast implements the enqueue side of the broadcast engine and
// the contracts shared with the worker loops.
//
// The Enqueuer resolves a campaign's audience and bulk-inserts queue jobs;
// Service wraps it with the trigger operations exposed over HTTP (enqueue,
// trigger now/schedule, downsell trigger events, scheduled-shot promotion
// and stats). Repository interfaces live here and are implemented in
// repository/postgres/.
package broadcast
