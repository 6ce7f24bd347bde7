package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/model"
)

type stubFetcher struct {
	state *model.SessionState
	err   error
	calls int
}

func (f *stubFetcher) GetExamState(ctx context.Context, examID uuid.UUID) (*model.SessionState, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// Copy so the synchronizer cannot mutate the stub's map.
	answers := make(map[string]*string, len(f.state.AutosavedAnswers))
	for k, v := range f.state.AutosavedAnswers {
		answers[k] = v
	}
	st := *f.state
	st.AutosavedAnswers = answers
	return &st, nil
}

type sentAnswer struct {
	qID string
	ans *string
}

type stubSender struct {
	sent []sentAnswer
	err  error
}

func (s *stubSender) SendAutosave(qID string, answer *string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentAnswer{qID: qID, ans: answer})
	return nil
}

func strptr(s string) *string { return &s }

func newFixture(serverAnswers map[string]*string) (*Synchronizer, *stubFetcher, *stubSender) {
	examID := uuid.New()
	fetcher := &stubFetcher{state: &model.SessionState{
		SessionID:        uuid.New(),
		ExamID:           examID,
		StudentID:        1,
		AutosavedAnswers: serverAnswers,
		RemainingTime:    1200,
	}}
	sender := &stubSender{}
	return New(examID, fetcher, sender, zerolog.Nop()), fetcher, sender
}

func TestSaveAnswerSendsAndTracksPending(t *testing.T) {
	s, _, sender := newFixture(nil)

	if err := s.SaveAnswer("q1", strptr("B")); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].qID != "q1" {
		t.Fatalf("sent = %+v", sender.sent)
	}
	if s.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", s.PendingCount())
	}

	s.AckSaved()
	if s.PendingCount() != 0 {
		t.Errorf("pending after ack = %d, want 0", s.PendingCount())
	}
}

func TestAckKeepsReEditedAnswerPending(t *testing.T) {
	s, _, _ := newFixture(nil)

	s.SaveAnswer("q1", strptr("B"))
	// Student changes their mind before the first ack arrives.
	s.SaveAnswer("q1", strptr("C"))

	// Ack for the "B" send. The newer edit must stay pending.
	s.AckSaved()
	if s.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1 (newer edit not yet durable)", s.PendingCount())
	}

	// Ack for the "C" send clears it.
	s.AckSaved()
	if s.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", s.PendingCount())
	}
}

func TestUnmatchedAckIsIgnored(t *testing.T) {
	s, _, _ := newFixture(nil)
	s.AckSaved() // must not panic or corrupt anything
	if s.PendingCount() != 0 {
		t.Errorf("pending = %d", s.PendingCount())
	}
}

func TestResyncSkipsAnswersTheServerAlreadyHas(t *testing.T) {
	s, fetcher, sender := newFixture(nil)

	s.SaveAnswer("q1", strptr("B"))
	s.SaveAnswer("q2", strptr("C"))
	s.HandleClose() // connection dropped before any ack

	// q1 landed server-side before the drop; q2 did not.
	fetcher.state.AutosavedAnswers = map[string]*string{"q1": strptr("B")}
	sender.sent = nil

	state, err := s.Resync(context.Background())
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if state.RemainingTime != 1200 {
		t.Errorf("remaining = %v", state.RemainingTime)
	}

	if len(sender.sent) != 1 || sender.sent[0].qID != "q2" {
		t.Fatalf("replayed = %+v, want exactly q2", sender.sent)
	}
	if s.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1 (q2 replay unacked)", s.PendingCount())
	}

	s.AckSaved()
	if s.PendingCount() != 0 {
		t.Errorf("pending after replay ack = %d, want 0", s.PendingCount())
	}
}

func TestResyncReplaysStaleServerValue(t *testing.T) {
	s, fetcher, sender := newFixture(nil)

	s.SaveAnswer("q1", strptr("D"))
	s.HandleClose()

	// The server has an older edit for q1, not the latest one.
	fetcher.state.AutosavedAnswers = map[string]*string{"q1": strptr("A")}
	sender.sent = nil

	if _, err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].qID != "q1" || *sender.sent[0].ans != "D" {
		t.Fatalf("replayed = %+v, want q1=D", sender.sent)
	}
}

func TestResyncReplaysClearedAnswer(t *testing.T) {
	s, fetcher, sender := newFixture(nil)

	s.SaveAnswer("q1", nil) // clear
	s.HandleClose()

	fetcher.state.AutosavedAnswers = map[string]*string{"q1": strptr("A")}
	sender.sent = nil

	if _, err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].qID != "q1" || sender.sent[0].ans != nil {
		t.Fatalf("replayed = %+v, want q1=nil", sender.sent)
	}

	// A stored null matches a pending clear: nothing to replay.
	s.HandleClose()
	fetcher.state.AutosavedAnswers = map[string]*string{"q1": nil}
	sender.sent = nil
	if _, err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("replayed = %+v, want none", sender.sent)
	}
}

func TestResyncFetchErrorSurfaced(t *testing.T) {
	s, fetcher, sender := newFixture(nil)
	fetchErr := errors.New("api unreachable")
	fetcher.err = fetchErr

	s.SaveAnswer("q1", strptr("B"))
	s.HandleClose()
	sender.sent = nil

	if _, err := s.Resync(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("err = %v, want wrapped fetch error", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (no internal retry)", fetcher.calls)
	}
	if len(sender.sent) != 0 {
		t.Errorf("replayed despite failed fetch: %+v", sender.sent)
	}
	// The edit survives for the next resync.
	if s.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", s.PendingCount())
	}
}

func TestFailedSendStaysPending(t *testing.T) {
	s, fetcher, sender := newFixture(nil)
	sendErr := errors.New("stream not open")
	sender.err = sendErr

	if err := s.SaveAnswer("q1", strptr("B")); !errors.Is(err, sendErr) {
		t.Fatalf("err = %v, want send error", err)
	}
	if s.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", s.PendingCount())
	}

	sender.err = nil
	if _, err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	_ = fetcher
	if len(sender.sent) != 1 || sender.sent[0].qID != "q1" {
		t.Fatalf("replayed = %+v, want q1", sender.sent)
	}
}

func TestApplyGradedExactlyOnce(t *testing.T) {
	s, _, _ := newFixture(nil)

	s.SaveAnswer("q1", strptr("B"))

	if !s.ApplyGraded("done", 87.5) {
		t.Fatal("first graded event not applied")
	}
	if s.ApplyGraded("done", 87.5) {
		t.Fatal("duplicate graded event applied")
	}

	if !s.Completed() {
		t.Error("Completed = false")
	}
	if got := s.FinalScore(); got == nil || *got != 87.5 {
		t.Errorf("FinalScore = %v, want 87.5", got)
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after grading", s.PendingCount())
	}

	if err := s.SaveAnswer("q2", strptr("A")); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("err = %v, want ErrSessionCompleted", err)
	}
}

func TestAnswersMergesServerAndPending(t *testing.T) {
	s, fetcher, _ := newFixture(map[string]*string{
		"q1": strptr("A"),
		"q2": strptr("B"),
	})
	_ = fetcher

	if _, err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	s.SaveAnswer("q2", strptr("C")) // local edit overrides server value
	s.SaveAnswer("q3", strptr("D"))

	got := s.Answers()
	want := map[string]string{"q1": "A", "q2": "C", "q3": "D"}
	if len(got) != len(want) {
		t.Fatalf("answers = %v", got)
	}
	for qID, w := range want {
		if v, ok := got[qID]; !ok || v == nil || *v != w {
			t.Errorf("answers[%s] = %v, want %s", qID, v, w)
		}
	}
}
