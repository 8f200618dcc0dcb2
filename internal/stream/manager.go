package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives raw data payloads from the active subscription.
// Control messages (heartbeat responses, subscription acks) are
// consumed by the manager and never reach the handler.
type Handler interface {
	HandlePayload(data []byte, receivedAt time.Time)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(data []byte, receivedAt time.Time)

func (f HandlerFunc) HandlePayload(data []byte, receivedAt time.Time) {
	f(data, receivedAt)
}

// Manager runs the subscription state machine for one symbol:
// Disconnected → Connecting → Subscribing → Active, with Backoff
// between attempts. Any transport error in any state forces Backoff;
// Disconnected is terminal and reached only on shutdown.
type Manager struct {
	cfg     ManagerConfig
	handler Handler
	logger  *slog.Logger

	// Overridable for tests.
	newClient func(ClientConfig, *slog.Logger) Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cmdID int64

	mu     sync.RWMutex
	states map[string]*SubscriptionState
	stats  ManagerStats
}

// NewManager creates a connection manager for the configured channels.
func NewManager(cfg ManagerConfig, handler Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	states := make(map[string]*SubscriptionState, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		states[ch] = &SubscriptionState{
			Channel: ch,
			Status:  StatusDisconnected,
		}
	}

	return &Manager{
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		newClient: NewClient,
		states:    states,
	}
}

// Start launches the connection loop.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("stream manager started",
		"url", m.cfg.URL,
		"symbol", m.cfg.Symbol,
		"channels", m.cfg.Channels,
	)
	return nil
}

// Stop cancels the connection loop, closes the transport, and waits
// for the receive and heartbeat loops to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping stream manager")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("stream manager stopped")
	case <-ctx.Done():
		m.logger.Warn("stream manager stop timed out")
	}

	return nil
}

// States returns a snapshot of all subscription states.
func (m *Manager) States() []SubscriptionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SubscriptionState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, *s)
	}
	return out
}

// Stats returns current counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// run is the connection loop: connect, subscribe, serve, back off,
// repeat until shutdown.
func (m *Manager) run() {
	defer m.wg.Done()
	defer m.setAll(StatusDisconnected)

	backoff := m.cfg.BackoffBase

	for {
		if m.ctx.Err() != nil {
			return
		}

		m.setAll(StatusConnecting)

		clientCfg := ClientConfig{
			URL:              m.cfg.URL,
			HandshakeTimeout: DefaultClientConfig().HandshakeTimeout,
			WriteTimeout:     DefaultClientConfig().WriteTimeout,
			BufferSize:       m.cfg.BufferSize,
		}
		client := m.newClient(clientCfg, m.logger)

		if err := client.Connect(m.ctx); err != nil {
			m.logger.Warn("connect failed", "error", err)
			m.recordFailure()
			if !m.waitBackoff(&backoff) {
				return
			}
			continue
		}

		m.setAll(StatusSubscribing)

		if err := m.subscribe(client); err != nil {
			m.logger.Warn("subscribe failed", "error", err)
			client.Close()
			m.recordFailure()
			if !m.waitBackoff(&backoff) {
				return
			}
			continue
		}

		// The feed sends no mandatory subscription ack before data, so
		// the subscription counts as active once the request is out.
		// Acks that do arrive are consumed in handleMessage.
		m.setAll(StatusActive)
		m.resetFailures()
		backoff = m.cfg.BackoffBase

		err := m.serve(client)
		client.Close()

		if m.ctx.Err() != nil {
			return
		}

		m.logger.Warn("connection lost", "error", err)
		m.recordFailure()
		if !m.waitBackoff(&backoff) {
			return
		}
	}
}

// subscribe sends the subscription request for all channels.
func (m *Manager) subscribe(client Client) error {
	req := subscribeRequest{
		Method: "SUBSCRIPTION",
		Params: m.cfg.Channels,
		ID:     atomic.AddInt64(&m.cmdID, 1),
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return client.Send(data)
}

// serve runs the receive loop with a cooperating heartbeat loop under
// one cancellation scope: when either exits, the other is torn down
// before serve returns.
func (m *Manager) serve(client Client) error {
	connCtx, cancel := context.WithCancel(m.ctx)

	hbErr := make(chan error, 1)
	var hbWg sync.WaitGroup
	hbWg.Add(1)
	go func() {
		defer hbWg.Done()
		m.heartbeatLoop(connCtx, client, hbErr)
	}()

	defer func() {
		cancel()
		hbWg.Wait()
	}()

	silence := time.NewTicker(m.cfg.SilenceThreshold / 4)
	defer silence.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil

		case err := <-client.Errors():
			return err

		case err := <-hbErr:
			return err

		case <-silence.C:
			if time.Since(client.LastMessageAt()) > m.cfg.SilenceThreshold {
				return ErrSilent
			}

		case msg, ok := <-client.Messages():
			if !ok {
				return ErrNotConnected
			}
			m.handleMessage(msg)
		}
	}
}

// heartbeatLoop sends a JSON PING on a fixed cadence. A failed send
// surfaces as a connection error.
func (m *Manager) heartbeatLoop(ctx context.Context, client Client, errCh chan<- error) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(heartbeat{Method: "PING"})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Send(ping); err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}

			now := time.Now().UnixMilli()
			m.mu.Lock()
			m.stats.HeartbeatsSent++
			for _, s := range m.states {
				s.LastHeartbeatSentMillis = now
			}
			m.mu.Unlock()
		}
	}
}

// handleMessage consumes control messages and forwards data payloads.
func (m *Manager) handleMessage(msg TimestampedMessage) {
	now := msg.ReceivedAt.UnixMilli()
	m.mu.Lock()
	m.stats.MessagesReceived++
	for _, s := range m.states {
		s.LastMessageReceivedMillis = now
	}
	m.mu.Unlock()

	if ack, ok := tryParseControl(msg.Data); ok {
		if ack.Msg == "PONG" {
			m.logger.Debug("heartbeat acknowledged")
			return
		}
		if ack.Code != 0 {
			m.logger.Warn("subscription rejected",
				"code", ack.Code,
				"msg", ack.Msg,
			)
			return
		}
		m.logger.Debug("subscription acknowledged", "msg", ack.Msg)
		return
	}

	m.handler.HandlePayload(msg.Data, msg.ReceivedAt)
}

// tryParseControl attempts to parse a message as a control response.
func tryParseControl(data []byte) (controlAck, bool) {
	// Quick check for control markers before a full parse.
	if !bytes.Contains(data, []byte(`"id":`)) && !bytes.Contains(data, []byte(`PONG`)) {
		return controlAck{}, false
	}

	var ack controlAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return controlAck{}, false
	}

	if ack.ID == 0 && ack.Msg != "PONG" {
		return controlAck{}, false
	}
	return ack, true
}

// waitBackoff sleeps the current backoff interval with ±50% jitter and
// doubles it up to the cap. Returns false when shutdown interrupted
// the wait.
func (m *Manager) waitBackoff(backoff *time.Duration) bool {
	m.setAll(StatusBackoff)

	wait := *backoff/2 + time.Duration(rand.Int63n(int64(*backoff)))

	m.logger.Info("backing off", "wait", wait)

	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(wait):
	}

	*backoff *= 2
	if *backoff > m.cfg.BackoffMax {
		*backoff = m.cfg.BackoffMax
	}

	m.mu.Lock()
	m.stats.Reconnects++
	m.mu.Unlock()

	return true
}

func (m *Manager) setAll(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		s.Status = status
	}
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		s.ConsecutiveFailures++
	}
}

func (m *Manager) resetFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		s.ConsecutiveFailures = 0
	}
}

// DealsChannel builds the aggregated-deals channel string for a symbol.
func DealsChannel(symbol string) string {
	return "spot@public.deals.v3.api@" + symbol
}
