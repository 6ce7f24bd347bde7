package stream

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHeartbeatTicks(t *testing.T) {
	var pings int64
	hb := newHeartbeat(10*time.Millisecond, func() error {
		atomic.AddInt64(&pings, 1)
		return nil
	}, zerolog.Nop())

	hb.start()
	time.Sleep(120 * time.Millisecond)
	hb.stop()

	got := atomic.LoadInt64(&pings)
	if got < 3 {
		t.Errorf("pings = %d, want at least 3 over 120ms at a 10ms interval", got)
	}

	// Stopped means stopped: no further ticks.
	time.Sleep(50 * time.Millisecond)
	if after := atomic.LoadInt64(&pings); after != got {
		t.Errorf("pings after stop = %d, want %d", after, got)
	}
}

func TestHeartbeatDuplicateStartIsNoop(t *testing.T) {
	var pings int64
	hb := newHeartbeat(10*time.Millisecond, func() error {
		atomic.AddInt64(&pings, 1)
		return nil
	}, zerolog.Nop())

	hb.start()
	hb.start()
	hb.start()
	if !hb.running() {
		t.Fatal("running = false after start")
	}

	// One stop must suffice even after repeated starts.
	hb.stop()
	if hb.running() {
		t.Fatal("running = true after stop")
	}
	base := atomic.LoadInt64(&pings)
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt64(&pings); got != base {
		t.Errorf("a leaked ticker kept pinging: %d -> %d", base, got)
	}
}

func TestHeartbeatStopIdempotent(t *testing.T) {
	hb := newHeartbeat(time.Hour, func() error { return nil }, zerolog.Nop())
	hb.stop() // never started
	hb.start()
	hb.stop()
	hb.stop()
	if hb.running() {
		t.Fatal("running = true after stop")
	}
}

func TestHeartbeatRestartAfterStop(t *testing.T) {
	var pings int64
	hb := newHeartbeat(10*time.Millisecond, func() error {
		atomic.AddInt64(&pings, 1)
		return nil
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		hb.start()
		hb.stop()
	}
	hb.start()
	defer hb.stop()
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&pings) == 0 {
		t.Error("restarted heartbeat never ticked")
	}
}
