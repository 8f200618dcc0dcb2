// Package stream owns the lifecycle of the push-feed connection:
// connect, subscribe, heartbeat, receive loop, reconnect with backoff,
// and clean shutdown.
package stream
