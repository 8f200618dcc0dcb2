package stream

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrSilent        = errors.New("connection silent past threshold")
	ErrAlreadyClosed = errors.New("already closed")
)

// Status is a subscription lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusSubscribing  Status = "subscribing"
	StatusActive       Status = "active"
	StatusBackoff      Status = "backoff"
)

// SubscriptionState tracks one (symbol, channel) subscription.
type SubscriptionState struct {
	Channel                   string
	Status                    Status
	LastHeartbeatSentMillis   int64
	LastMessageReceivedMillis int64
	ConsecutiveFailures       int
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// subscribeRequest is the outbound subscription control message.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// heartbeat is the outbound keepalive control message, sent on a fixed
// cadence while the subscription is active.
type heartbeat struct {
	Method string `json:"method"`
}

// controlAck is an inbound control response: subscription acks carry
// the request id and the channel string in msg; heartbeat responses
// carry msg "PONG".
type controlAck struct {
	ID   int64  `json:"id"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int // message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL              string
	Symbol           string
	Channels         []string      // channel strings to subscribe, symbol already applied
	PingInterval     time.Duration // heartbeat cadence
	SilenceThreshold time.Duration // max quiet time before forcing reconnect
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	BufferSize       int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PingInterval:     20 * time.Second,
		SilenceThreshold: 60 * time.Second,
		BackoffBase:      1 * time.Second,
		BackoffMax:       60 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerStats provides manager counters.
type ManagerStats struct {
	MessagesReceived int64
	Reconnects       int64
	HeartbeatsSent   int64
}
