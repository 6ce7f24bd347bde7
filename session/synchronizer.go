package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/model"
)

// ErrSessionCompleted is returned for answer edits after the exam was
// graded. The server-side coordinator rejects such autosaves anyway; the
// client refuses to even send them.
var ErrSessionCompleted = errors.New("exam session already completed")

// StateFetcher fetches the authoritative session snapshot over REST.
// *restclient.Client satisfies it.
type StateFetcher interface {
	GetExamState(ctx context.Context, examID uuid.UUID) (*model.SessionState, error)
}

// AnswerSender transmits one autosave on the live stream.
// *stream.Client satisfies it.
type AnswerSender interface {
	SendAutosave(qID string, answer *string) error
}

// inflightAnswer is one autosave on the wire awaiting its success event.
type inflightAnswer struct {
	qID string
	ans *string
}

// Synchronizer reconciles server-authoritative session state with local
// answer edits across reconnects.
//
// The server is the single source of truth: an autosave sent right before
// a disconnect may or may not have landed, so after every new connection
// Resync fetches the authoritative state and re-sends only the local edits
// it does not reflect. Autosave is idempotent per question server-side,
// making the at-least-once replay safe.
//
// Success events carry no request id; they are correlated FIFO against the
// in-flight queue, which is sound because frames on one open transport are
// ordered. The queue is flushed on every close — unacknowledged entries
// stay pending and the next Resync resolves them.
type Synchronizer struct {
	examID uuid.UUID
	fetch  StateFetcher
	send   AnswerSender
	log    zerolog.Logger

	mu         sync.Mutex
	pending    map[string]*string
	inflight   []inflightAnswer
	state      *model.SessionState
	status     model.SessionStatus
	finalScore *float64
}

// New creates a synchronizer scoped to one exam session.
func New(examID uuid.UUID, fetch StateFetcher, send AnswerSender, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		examID:  examID,
		fetch:   fetch,
		send:    send,
		log:     log.With().Str("component", "session_sync").Str("exam_id", examID.String()).Logger(),
		pending: make(map[string]*string),
		status:  model.SessionStatusInProgress,
	}
}

// SaveAnswer records a local answer edit (nil clears the question) and
// sends it as an autosave. A failed send is not fatal: the edit stays
// pending and the next Resync replays it.
func (s *Synchronizer) SaveAnswer(qID string, answer *string) error {
	s.mu.Lock()
	if s.status == model.SessionStatusCompleted {
		s.mu.Unlock()
		return ErrSessionCompleted
	}
	s.pending[qID] = answer
	s.mu.Unlock()

	if err := s.send.SendAutosave(qID, answer); err != nil {
		s.log.Warn().Err(err).Str("q_id", qID).Msg("Autosave not sent, will replay after resync")
		return err
	}

	s.mu.Lock()
	s.inflight = append(s.inflight, inflightAnswer{qID: qID, ans: answer})
	s.mu.Unlock()
	return nil
}

// AckSaved consumes one success event, acknowledging the oldest in-flight
// autosave. The pending edit is dropped only if the student has not edited
// the question again since the acknowledged send.
func (s *Synchronizer) AckSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inflight) == 0 {
		// A success for something this instance never sent (e.g. another
		// tab). Harmless; the state fetch covers it.
		s.log.Debug().Msg("Unmatched success event")
		return
	}

	acked := s.inflight[0]
	s.inflight = s.inflight[1:]

	if cur, ok := s.pending[acked.qID]; ok && answersEqual(cur, acked.ans) {
		delete(s.pending, acked.qID)
	}
}

// HandleClose flushes the in-flight queue after a transport close. The
// entries remain pending; whether they were durably saved is unknowable
// here and is decided by the next Resync.
func (s *Synchronizer) HandleClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.inflight); n > 0 {
		s.log.Info().Int("count", n).Msg("Connection closed with unacknowledged autosaves")
	}
	s.inflight = nil
}

// Resync fetches the authoritative session state and replays every pending
// edit not reflected in it. Call on every new open, initial or reconnect.
// A failed fetch is returned as-is; the synchronizer does not retry it.
func (s *Synchronizer) Resync(ctx context.Context) (*model.SessionState, error) {
	state, err := s.fetch.GetExamState(ctx, s.examID)
	if err != nil {
		return nil, fmt.Errorf("fetch session state: %w", err)
	}

	s.mu.Lock()
	s.state = state
	s.inflight = nil

	var replay []inflightAnswer
	for qID, ans := range s.pending {
		saved, ok := state.AutosavedAnswers[qID]
		if ok && answersEqual(saved, ans) {
			// Already durable server-side; no retransmission needed.
			delete(s.pending, qID)
			continue
		}
		replay = append(replay, inflightAnswer{qID: qID, ans: ans})
	}
	s.mu.Unlock()

	for _, r := range replay {
		if err := s.send.SendAutosave(r.qID, r.ans); err != nil {
			s.log.Warn().Err(err).Str("q_id", r.qID).Msg("Replay send failed")
			continue
		}
		s.mu.Lock()
		s.inflight = append(s.inflight, r)
		s.mu.Unlock()
	}

	s.log.Info().
		Int("replayed", len(replay)).
		Float64("remaining_seconds", state.RemainingTime).
		Msg("Session state resynchronized")
	return state, nil
}

// ApplyGraded transitions the local session to COMPLETED with the final
// score. Only the first graded event takes effect; it reports whether this
// call was the one that applied it.
func (s *Synchronizer) ApplyGraded(status string, score float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == model.SessionStatusCompleted {
		s.log.Debug().Msg("Duplicate graded event ignored")
		return false
	}
	s.status = model.SessionStatusCompleted
	s.finalScore = &score
	s.pending = make(map[string]*string)
	s.inflight = nil

	s.log.Info().Str("status", status).Float64("score", score).Msg("Exam graded")
	return true
}

// Completed reports whether the session has been graded.
func (s *Synchronizer) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == model.SessionStatusCompleted
}

// FinalScore returns the score set by the graded event, or nil.
func (s *Synchronizer) FinalScore() *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalScore
}

// Remaining returns the remaining seconds as of the last resync.
func (s *Synchronizer) Remaining() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return 0
	}
	return s.state.RemainingTime
}

// Answers returns the last-synced server answers overlaid with pending
// local edits: the client's best current view of the answer sheet.
func (s *Synchronizer) Answers() map[string]*string {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]*string)
	if s.state != nil {
		for qID, ans := range s.state.AutosavedAnswers {
			merged[qID] = ans
		}
	}
	for qID, ans := range s.pending {
		merged[qID] = ans
	}
	return merged
}

// PendingCount reports how many local edits are not yet known durable.
func (s *Synchronizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func answersEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
