package model

import (
	"github.com/google/uuid"
)

// StudentQuestion is a question as delivered to the student, with the
// correct answer stripped server-side.
type StudentQuestion struct {
	ID           uuid.UUID `json:"id"`
	QuestionText string    `json:"question_text"`
	Options      []string  `json:"options"`
	OrderNum     int       `json:"order_num"`
}

// ExamPaper is the exam payload served from the backend's cache.
// Immutable for the lifetime of a session; fetch once after joining.
type ExamPaper struct {
	ExamID    uuid.UUID         `json:"exam_id"`
	Title     string            `json:"title"`
	Duration  int               `json:"duration_minutes"`
	Questions []StudentQuestion `json:"questions"`
}

// LobbyStatus represents the concrete state of an exam in the lobby.
type LobbyStatus string

const (
	LobbyStatusUpcoming   LobbyStatus = "UPCOMING"
	LobbyStatusAvailable  LobbyStatus = "AVAILABLE"
	LobbyStatusInProgress LobbyStatus = "IN_PROGRESS"
	LobbyStatusCompleted  LobbyStatus = "COMPLETED"
)

// LobbyExam is an exam as shown in the student lobby, with the student's
// session status overlaid when one exists.
type LobbyExam struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	SubjectName     string         `json:"subject_name,omitempty"`
	ScheduledStart  *string        `json:"scheduled_start,omitempty"`
	ScheduledEnd    *string        `json:"scheduled_end,omitempty"`
	DurationMinutes int            `json:"duration_minutes"`
	Status          string         `json:"status"`
	LobbyStatus     LobbyStatus    `json:"lobby_status"`
	SessionStatus   *SessionStatus `json:"session_status,omitempty"`
	FinalScore      *float64       `json:"final_score,omitempty"`
}
