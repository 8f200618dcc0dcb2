// Package sink batches canonical events into storage points and
// forwards them to the time-series backend. Write failures are logged
// and dropped; trade data lost this way is resupplied by REST
// reconciliation upstream.
package sink
