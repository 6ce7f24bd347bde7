package restclient

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-client/model"
)

// validate checks outgoing payloads with the same rules the backend binds.
var validate = validator.New(validator.WithRequiredStructEnabled())

// JoinExam redeems an entry token for an exam session. The endpoint is
// idempotent: redeeming again while IN_PROGRESS returns the same session.
func (c *Client) JoinExam(ctx context.Context, examID uuid.UUID, entryToken string) (*model.ExamSession, error) {
	req := model.JoinExamRequest{EntryToken: entryToken}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid entry token: %w", err)
	}

	var out struct {
		Session model.ExamSession `json:"session"`
	}
	path := fmt.Sprintf("/student/exams/%s/join", examID)
	if err := c.post(ctx, path, req, &out); err != nil {
		return nil, err
	}

	c.log.Info().
		Str("exam_id", examID.String()).
		Str("session_id", out.Session.ID.String()).
		Str("status", string(out.Session.Status)).
		Msg("Joined exam")
	return &out.Session, nil
}

// GetExamPaper fetches the exam questions (without answers). The payload is
// immutable for the session, so callers may cache it.
func (c *Client) GetExamPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	var paper model.ExamPaper
	path := fmt.Sprintf("/student/exams/%s/paper", examID)
	if err := c.get(ctx, path, &paper); err != nil {
		return nil, err
	}
	return &paper, nil
}

// GetExamState fetches the authoritative session snapshot: previously
// autosaved answers and the true remaining time. Called on every new
// stream connection so a reconnecting client resumes without drift.
func (c *Client) GetExamState(ctx context.Context, examID uuid.UUID) (*model.SessionState, error) {
	var state model.SessionState
	path := fmt.Sprintf("/student/exams/%s/state", examID)
	if err := c.get(ctx, path, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetLobby lists the exams currently visible to the student.
func (c *Client) GetLobby(ctx context.Context) ([]model.LobbyExam, error) {
	var out struct {
		Exams []model.LobbyExam `json:"exams"`
	}
	if err := c.get(ctx, "/student/lobby", &out); err != nil {
		return nil, err
	}
	return out.Exams, nil
}
