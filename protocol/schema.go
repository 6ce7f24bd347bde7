package protocol

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
	ActionCheat    Action = "cheat"
)

// ClientMessage is implemented by every client→server payload.
type ClientMessage interface {
	clientMessage()
}

// AutosaveRequest saves a single answer. A nil Answer clears the question.
type AutosaveRequest struct {
	Action Action  `json:"action"`
	QID    string  `json:"q_id"`
	Answer *string `json:"ans"`
}

// SubmitRequest finishes the exam and requests grading.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// PingRequest keeps the connection alive.
type PingRequest struct {
	Action Action `json:"action"`
}

// CheatRequest reports a cheat event. Payload is the serialized JSON of
// the sensor's CheatEvent; the server stores it without interpretation.
type CheatRequest struct {
	Action  Action `json:"action"`
	Payload string `json:"payload"`
}

func (AutosaveRequest) clientMessage() {}
func (SubmitRequest) clientMessage()   {}
func (PingRequest) clientMessage()     {}
func (CheatRequest) clientMessage()    {}

// NewAutosave builds a well-formed autosave request.
func NewAutosave(qID string, answer *string) AutosaveRequest {
	return AutosaveRequest{Action: ActionAutosave, QID: qID, Answer: answer}
}

// NewSubmit builds a submit request.
func NewSubmit() SubmitRequest {
	return SubmitRequest{Action: ActionSubmit}
}

// NewPing builds a heartbeat ping.
func NewPing() PingRequest {
	return PingRequest{Action: ActionPing}
}

// NewCheat builds a cheat report carrying an opaque serialized payload.
func NewCheat(payload string) CheatRequest {
	return CheatRequest{Action: ActionCheat, Payload: payload}
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

// ServerMessage is implemented by every decoded server→client payload,
// including UnknownEvent for discriminants this client does not know yet.
type ServerMessage interface {
	serverMessage()
}

// SuccessResponse confirms a single answer was saved.
type SuccessResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

// GradedResponse carries the final score after submission.
type GradedResponse struct {
	Event  Event   `json:"event"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

// ErrorResponse communicates an application error to the client.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

// PongResponse acknowledges a ping.
type PongResponse struct {
	Event Event `json:"event"`
}

// UnknownEvent is returned for well-formed frames whose event discriminant
// this client does not recognize. Receivers must log and ignore it so the
// protocol stays forward compatible with server additions.
type UnknownEvent struct {
	Event Event
	Raw   []byte
}

func (*SuccessResponse) serverMessage() {}
func (*GradedResponse) serverMessage()  {}
func (*ErrorResponse) serverMessage()   {}
func (*PongResponse) serverMessage()    {}
func (*UnknownEvent) serverMessage()    {}
