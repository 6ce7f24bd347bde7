// Package examtest provides an in-memory stand-in for the exam platform's
// session coordinator: the join/paper/state REST endpoints plus the
// WebSocket exam stream, speaking the same wire protocol as the real
// backend. It exists for integration tests and local experiments; nothing
// here persists anything.
package examtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-client/model"
	"github.com/stemsi/exstem-client/protocol"
)

// Config seeds one exam served by the fake coordinator.
type Config struct {
	Token      string            // bearer token accepted on every endpoint
	EntryToken string            // token redeemed by join
	Paper      model.ExamPaper   // questions served to the student
	AnswerKey  map[string]string // question id → correct answer
	StudentID  int
}

// Server is a single-student, single-exam fake coordinator.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	httpSrv  *httptest.Server

	mu        sync.Mutex
	session   *model.ExamSession
	startedAt time.Time
	answers   map[string]*string
	cheats    []string
	completed bool
	score     *float64
	failDials int
	dials     int
	muteAcks  bool
	conns     map[*websocket.Conn]struct{}

	writeMu sync.Mutex
}

// New builds and starts the fake coordinator on an ephemeral port.
func New(cfg Config) *Server {
	if cfg.StudentID == 0 {
		cfg.StudentID = 1
	}
	s := &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		answers:  make(map[string]*string),
		conns:    make(map[*websocket.Conn]struct{}),
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()

	api := r.Group("/api/v1", s.requireBearer)
	api.POST("/student/exams/:exam_id/join", s.handleJoin)
	api.GET("/student/exams/:exam_id/paper", s.handlePaper)
	api.GET("/student/exams/:exam_id/state", s.handleState)
	api.GET("/student/lobby", s.handleLobby)

	r.GET("/ws/v1/student/exams/:exam_id/stream", s.handleStream)

	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL returns the http base of the fake server.
func (s *Server) URL() string { return s.httpSrv.URL }

// APIBase returns the REST root, ready for restclient.New.
func (s *Server) APIBase() string { return s.httpSrv.URL + "/api/v1" }

// Close shuts the server down and drops every live stream.
func (s *Server) Close() {
	s.DropConnections()
	s.httpSrv.Close()
}

// ─── Test hooks ─────────────────────────────────────────────────────

// FailNextDials makes the next n stream upgrade requests fail before the
// handshake, simulating an unreachable server.
func (s *Server) FailNextDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDials = n
}

// DropConnections abruptly closes every live stream connection,
// simulating a network drop.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// StreamDials reports how many stream upgrade requests arrived, including
// refused ones. Lets tests prove that a cancelled backoff timer never fired.
func (s *Server) StreamDials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// SetMuteAcks suppresses success events for autosaves while enabled,
// simulating an autosave that reached the server but whose acknowledgment
// was lost to a disconnect.
func (s *Server) SetMuteAcks(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muteAcks = mute
}

// Broadcast sends an arbitrary JSON payload to every live stream, for
// exercising forward-compatibility paths.
func (s *Server) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.BroadcastRaw(data)
}

// BroadcastRaw sends a raw text frame, valid JSON or not, to every live
// stream.
func (s *Server) BroadcastRaw(data []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.writeMu.Lock()
		c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = c.WriteMessage(websocket.TextMessage, data)
		s.writeMu.Unlock()
	}
}

// StartSession creates the student's session directly, for stream-focused
// tests that skip the REST join.
func (s *Server) StartSession() *model.ExamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSessionLocked()
}

// Answers returns a copy of the autosaved answers.
func (s *Server) Answers() map[string]*string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// ForgetAnswer removes an answer server-side, simulating an autosave that
// was sent but never processed before a disconnect.
func (s *Server) ForgetAnswer(qID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.answers, qID)
}

// CheatLog returns the raw cheat payloads received so far.
func (s *Server) CheatLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cheats...)
}

// Completed reports whether the session was submitted and graded.
func (s *Server) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *Server) ensureSessionLocked() *model.ExamSession {
	if s.session == nil {
		s.startedAt = time.Now()
		s.session = &model.ExamSession{
			ID:        uuid.New(),
			ExamID:    s.cfg.Paper.ExamID,
			StudentID: s.cfg.StudentID,
			StartedAt: s.startedAt,
			Status:    model.SessionStatusInProgress,
		}
	}
	return s.session
}

// ─── REST handlers ──────────────────────────────────────────────────

func (s *Server) requireBearer(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+s.cfg.Token {
		failJSON(c, http.StatusUnauthorized, "TOKEN_INVALID", "invalid token")
		c.Abort()
	}
}

func (s *Server) handleJoin(c *gin.Context) {
	var req model.JoinExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if req.EntryToken != s.cfg.EntryToken {
		failJSON(c, http.StatusBadRequest, "INVALID_ENTRY_TOKEN", "invalid entry token")
		return
	}

	// Idempotent: rejoining returns the existing session.
	s.mu.Lock()
	sess := *s.ensureSessionLocked()
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"session": sess}})
}

func (s *Server) handlePaper(c *gin.Context) {
	s.mu.Lock()
	joined := s.session != nil
	s.mu.Unlock()
	if !joined {
		failJSON(c, http.StatusForbidden, "FORBIDDEN", "no active session for this exam")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.cfg.Paper})
}

func (s *Server) handleState(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		failJSON(c, http.StatusForbidden, "FORBIDDEN", "no active session for this exam")
		return
	}

	endTime := s.startedAt.Add(time.Duration(s.cfg.Paper.Duration) * time.Minute)
	remaining := time.Until(endTime)
	if remaining < 0 {
		remaining = 0
	}

	answers := make(map[string]*string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}

	c.JSON(http.StatusOK, gin.H{"data": model.SessionState{
		SessionID:        s.session.ID,
		ExamID:           s.session.ExamID,
		StudentID:        s.session.StudentID,
		AutosavedAnswers: answers,
		RemainingTime:    remaining.Seconds(),
	}})
}

func (s *Server) handleLobby(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.LobbyExam{
		ID:              s.cfg.Paper.ExamID,
		Title:           s.cfg.Paper.Title,
		DurationMinutes: s.cfg.Paper.Duration,
		Status:          "PUBLISHED",
		LobbyStatus:     model.LobbyStatusAvailable,
	}
	if s.session != nil {
		status := s.session.Status
		entry.SessionStatus = &status
		entry.FinalScore = s.score
		if s.completed {
			entry.LobbyStatus = model.LobbyStatusCompleted
		} else {
			entry.LobbyStatus = model.LobbyStatusInProgress
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"exams": []model.LobbyExam{entry}}})
}

func failJSON(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"data":  nil,
		"error": gin.H{"code": code, "message": msg},
	})
}

// ─── Stream handler ─────────────────────────────────────────────────

func (s *Server) handleStream(c *gin.Context) {
	if c.Query("token") != s.cfg.Token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	s.mu.Lock()
	s.dials++
	if s.failDials > 0 {
		s.failDials--
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	joined := s.session != nil
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !joined {
		s.writeEvent(conn, protocol.ErrorResponse{Event: protocol.EventError, Error: "no active session for this exam"})
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleAction(conn, data)
	}
}

func (s *Server) handleAction(conn *websocket.Conn, data []byte) {
	var env struct {
		Action protocol.Action `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		s.writeEvent(conn, protocol.ErrorResponse{Event: protocol.EventError, Error: "malformed request"})
		return
	}

	switch env.Action {
	case protocol.ActionAutosave:
		var req protocol.AutosaveRequest
		if err := json.Unmarshal(data, &req); err != nil || req.QID == "" {
			s.writeEvent(conn, protocol.ErrorResponse{Event: protocol.EventError, Error: "q_id is required"})
			return
		}
		s.mu.Lock()
		if s.completed {
			s.mu.Unlock()
			s.writeEvent(conn, protocol.ErrorResponse{Event: protocol.EventError, Error: "exam session is already completed"})
			return
		}
		s.answers[req.QID] = req.Answer
		muted := s.muteAcks
		s.mu.Unlock()
		if !muted {
			s.writeEvent(conn, protocol.SuccessResponse{Event: protocol.EventSuccess, Status: "saved"})
		}

	case protocol.ActionSubmit:
		score := s.grade()
		s.writeEvent(conn, protocol.GradedResponse{Event: protocol.EventGraded, Status: "done", Score: score})

	case protocol.ActionPing:
		s.writeEvent(conn, protocol.PongResponse{Event: protocol.EventPong})

	case protocol.ActionCheat:
		var req protocol.CheatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeEvent(conn, protocol.ErrorResponse{Event: protocol.EventError, Error: "malformed cheat payload"})
			return
		}
		s.mu.Lock()
		s.cheats = append(s.cheats, req.Payload)
		s.mu.Unlock()

	default:
		s.writeEvent(conn, protocol.ErrorResponse{Event: protocol.EventError, Error: "unknown action: " + string(env.Action)})
	}
}

// grade scores the answer sheet as a percentage of the answer key, the
// same way the real coordinator does, and completes the session.
func (s *Server) grade() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	correct := 0
	total := len(s.cfg.AnswerKey)
	for qID, want := range s.cfg.AnswerKey {
		if got, ok := s.answers[qID]; ok && got != nil && *got == want {
			correct++
		}
	}

	var score float64
	if total > 0 {
		score = float64(correct) / float64(total) * 100
	}

	s.completed = true
	s.score = &score
	if s.session != nil {
		now := time.Now()
		s.session.Status = model.SessionStatusCompleted
		s.session.FinishedAt = &now
		s.session.FinalScore = &score
	}
	return score
}

func (s *Server) writeEvent(conn *websocket.Conn, v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(v)
}
