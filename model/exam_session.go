package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession is the client-side projection of a student's exam attempt.
// The server owns the authoritative row; this is read-mostly and never
// mutated locally after reaching COMPLETED.
type ExamSession struct {
	ID         uuid.UUID     `json:"id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	StudentID  int           `json:"student_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Status     SessionStatus `json:"status"`
	FinalScore *float64      `json:"final_score,omitempty"`
}

// SessionState is the server-computed snapshot returned by the state
// endpoint. It is a cache, not a source of truth: remaining time and the
// saved-answer map must be refreshed whenever a new stream connection is
// established. A nil answer value means the question was cleared.
type SessionState struct {
	SessionID        uuid.UUID          `json:"session_id"`
	ExamID           uuid.UUID          `json:"exam_id"`
	StudentID        int                `json:"student_id"`
	AutosavedAnswers map[string]*string `json:"autosaved_answers"`
	RemainingTime    float64            `json:"remaining_time"` // seconds
}

// JoinExamRequest is the payload for a student joining an exam.
type JoinExamRequest struct {
	EntryToken string `json:"entry_token" validate:"required,min=4,max=20"`
}
