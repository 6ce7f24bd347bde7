package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/examtest"
	"github.com/stemsi/exstem-client/model"
	"github.com/stemsi/exstem-client/restclient"
	"github.com/stemsi/exstem-client/stream"
)

// syncHandler wires stream events into a synchronizer the way an
// application would.
type syncHandler struct {
	syncer *Synchronizer
	opened chan struct{}
}

func (h *syncHandler) OnOpen() {
	go func() {
		_, _ = h.syncer.Resync(context.Background())
		h.opened <- struct{}{}
	}()
}
func (h *syncHandler) OnClose()                   { h.syncer.HandleClose() }
func (h *syncHandler) OnError(err error)          {}
func (h *syncHandler) OnSaved(status string)      { h.syncer.AckSaved() }
func (h *syncHandler) OnGraded(_ string, s float64) { h.syncer.ApplyGraded("done", s) }

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// The full recovery story: edits whose acknowledgments were lost to a
// disconnect are reconciled against the server state after reconnect, and
// only the ones the server never received are retransmitted.
func TestResyncRecoversLostAutosaves(t *testing.T) {
	const token = "resync-test-token"
	examID := uuid.New()
	srv := examtest.New(examtest.Config{
		Token:      token,
		EntryToken: "SESAME",
		Paper: model.ExamPaper{
			ExamID:   examID,
			Title:    "Recovery Exam",
			Duration: 45,
		},
	})
	defer srv.Close()

	rest := restclient.New(srv.APIBase(), token, zerolog.Nop())
	if _, err := rest.JoinExam(context.Background(), examID, "SESAME"); err != nil {
		t.Fatalf("join: %v", err)
	}

	sc := stream.New(stream.Config{
		BaseURL:              srv.URL(),
		Token:                token,
		PingInterval:         time.Hour,
		BackoffBase:          10 * time.Millisecond,
		BackoffCap:           80 * time.Millisecond,
		MaxReconnectAttempts: 5,
		Logger:               zerolog.Nop(),
	})
	syncer := New(examID, rest, sc, zerolog.Nop())
	h := &syncHandler{syncer: syncer, opened: make(chan struct{}, 16)}

	sc.Connect(examID, h)
	defer sc.Disconnect()
	select {
	case <-h.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("initial open/resync timed out")
	}

	// q1 goes through the happy path and is acknowledged.
	b := "B"
	if err := syncer.SaveAnswer("q1", &b); err != nil {
		t.Fatalf("save q1: %v", err)
	}
	waitUntil(t, 2*time.Second, "q1 ack", func() bool { return syncer.PendingCount() == 0 })

	// From here on the server stores autosaves but swallows their acks,
	// as if the connection died between save and acknowledgment.
	srv.SetMuteAcks(true)

	c := "C"
	if err := syncer.SaveAnswer("q2", &c); err != nil {
		t.Fatalf("save q2: %v", err)
	}
	d := "D"
	if err := syncer.SaveAnswer("q3", &d); err != nil {
		t.Fatalf("save q3: %v", err)
	}
	waitUntil(t, 2*time.Second, "q2/q3 stored server-side", func() bool {
		ans := srv.Answers()
		return ans["q2"] != nil && ans["q3"] != nil
	})

	// q3 is rolled back server-side: its autosave "never happened".
	srv.ForgetAnswer("q3")
	srv.SetMuteAcks(false)

	if syncer.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2 before reconnect", syncer.PendingCount())
	}

	srv.DropConnections()
	select {
	case <-h.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect resync timed out")
	}

	// Resync found q2 durable and replayed only q3; the replay's ack
	// drains the last pending edit.
	waitUntil(t, 2*time.Second, "pending drained", func() bool { return syncer.PendingCount() == 0 })

	ans := srv.Answers()
	for qID, want := range map[string]string{"q1": "B", "q2": "C", "q3": "D"} {
		if v := ans[qID]; v == nil || *v != want {
			t.Errorf("server answer %s = %v, want %s", qID, v, want)
		}
	}

	// The merged view reflects the resynced snapshot, which already
	// carried q1 and q2.
	merged := syncer.Answers()
	for _, qID := range []string{"q1", "q2"} {
		if merged[qID] == nil {
			t.Errorf("merged view missing %s", qID)
		}
	}
	if syncer.Remaining() <= 0 {
		t.Errorf("remaining = %v, want positive", syncer.Remaining())
	}
}
