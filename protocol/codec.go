package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame marks a frame that could not be parsed at all.
// A malformed frame is reported to the caller and otherwise ignored; it is
// never a reason to close the connection.
var ErrMalformedFrame = errors.New("malformed frame")

// eventEnvelope peeks at the discriminant before full parsing.
type eventEnvelope struct {
	Event Event `json:"event"`
}

// EncodeClientMessage serializes a client→server payload to one JSON frame.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	return data, nil
}

// DecodeServerMessage parses one server→client frame by switching on the
// event discriminant. Unrecognized events decode to *UnknownEvent with a
// nil error; only a frame that fails to parse returns ErrMalformedFrame.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Event {
	case EventSuccess:
		var msg SuccessResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &msg, nil
	case EventGraded:
		var msg GradedResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &msg, nil
	case EventError:
		var msg ErrorResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &msg, nil
	case EventPong:
		return &PongResponse{Event: EventPong}, nil
	default:
		return &UnknownEvent{Event: env.Event, Raw: data}, nil
	}
}
