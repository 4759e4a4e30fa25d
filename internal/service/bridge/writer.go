package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-bridge-service/internal/observability/metrics"
	"ai-voice-bridge-service/internal/service/turn"
)

// outbound is the connection's single writer. Every write to the socket,
// including pings, happens on its goroutine.
type outbound struct {
	conn         Conn
	writeTimeout time.Duration
	pingInterval time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	mu     sync.Mutex
	queue  chan turn.Event
	closed bool
	done   chan struct{}
}

func newOutbound(conn Conn, buffer int, writeTimeout, pingInterval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *outbound {
	if buffer <= 0 {
		buffer = 1
	}
	return &outbound{
		conn:         conn,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		metrics:      m,
		logger:       logger,
		queue:        make(chan turn.Event, buffer),
		done:         make(chan struct{}),
	}
}

// Send queues ev for writing. Events sent after Close are dropped.
func (o *outbound) Send(ev turn.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.queue <- ev
}

// Close stops accepting events and waits for queued ones to be written.
func (o *outbound) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	<-o.done
}

func (o *outbound) run() {
	defer close(o.done)

	var tick <-chan time.Time
	if o.pingInterval > 0 {
		ticker := time.NewTicker(o.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	broken := false
	for {
		select {
		case ev, ok := <-o.queue:
			if !ok {
				return
			}
			if broken {
				continue
			}
			if err := o.write(ev); err != nil {
				broken = true
				o.metrics.RecordWriteError()
				o.logger.Warn().Err(err).Str("eventType", ev.Type).Msg("Client write failed, discarding further events")
			}

		case <-tick:
			if broken {
				continue
			}
			deadline := time.Now().Add(o.writeTimeout)
			if err := o.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				broken = true
				o.metrics.RecordWriteError()
				o.logger.Debug().Err(err).Msg("Ping failed")
			}
		}
	}
}

func (o *outbound) write(ev turn.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if o.writeTimeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	return o.conn.WriteMessage(websocket.TextMessage, payload)
}
