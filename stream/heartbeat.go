package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// heartbeat sends a ping on a fixed interval while a connection is open.
// It keeps no per-ping deadline: a dead peer surfaces through the
// transport's own close/error signaling, not through missed pongs.
//
// The owner must pair every start with exactly one stop on the same
// connection instance; start is a no-op while already running so a timer
// can never be doubled across reconnects.
type heartbeat struct {
	interval time.Duration
	send     func() error
	log      zerolog.Logger

	mu   sync.Mutex
	done chan struct{}
}

func newHeartbeat(interval time.Duration, send func() error, log zerolog.Logger) *heartbeat {
	return &heartbeat{
		interval: interval,
		send:     send,
		log:      log.With().Str("component", "heartbeat").Logger(),
	}
}

func (h *heartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		h.log.Warn().Msg("Heartbeat already running, ignoring duplicate start")
		return
	}
	done := make(chan struct{})
	h.done = done
	go h.loop(done)
}

func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == nil {
		return
	}
	close(h.done)
	h.done = nil
}

func (h *heartbeat) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done != nil
}

func (h *heartbeat) loop(done chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := h.send(); err != nil {
				// The connection is on its way down; the read loop owns
				// the close handling.
				h.log.Debug().Err(err).Msg("Ping send failed")
			}
		}
	}
}
