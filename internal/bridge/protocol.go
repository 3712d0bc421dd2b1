package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Protocol message types that affect bridge status.
const (
	MsgAuthSuccess     = "auth.success"
	MsgAuthQR          = "auth.qr"
	MsgAuthCodeNeeded  = "auth.code_needed"
	MsgAuthPhoneNeeded = "auth.phone_needed"
	MsgStatus          = "status"
)

// ErrNotObject is returned by DecodeEnvelope for valid JSON that is not an object.
var ErrNotObject = errors.New("protocol message is not a JSON object")

// Envelope is the tagged view of one worker protocol message.
// Only the discriminator and the fields needed for status inference are
// decoded; everything else stays in the raw payload.
type Envelope struct {
	Type string
	ID   string
	Data json.RawMessage
}

// statusData is the payload of a "status" message.
type statusData struct {
	Status string `json:"status"`
}

// DecodeEnvelope decodes one stdout line.
//
// It performs:
//  1. Decodes the line as a JSON object, rejecting arrays, scalars and null
//  2. Extracts type, id and data; fields of unexpected type degrade to
//     their zero value rather than failing
//  3. Compacts the original bytes for forwarding
//
// Parameters:
//   - line: One stdout line without its newline
//
// Returns:
//   - Envelope: The fields used for status inference
//   - json.RawMessage: The object with insignificant whitespace removed;
//     keys, key order and values are exactly as the worker wrote them
//   - error: ErrNotObject, or a wrapped syntax error
func DecodeEnvelope(line []byte) (Envelope, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Envelope{}, nil, ErrNotObject
		}
		return Envelope{}, nil, fmt.Errorf("decoding protocol message: %w", err)
	}
	if fields == nil {
		// Literal null decodes into a nil map.
		return Envelope{}, nil, ErrNotObject
	}

	env := Envelope{
		Type: stringField(fields["type"]),
		ID:   stringField(fields["id"]),
		Data: fields["data"],
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, line); err != nil {
		return Envelope{}, nil, fmt.Errorf("compacting protocol message: %w", err)
	}

	return env, json.RawMessage(compact.Bytes()), nil
}

// stringField returns raw as a string, or "" if it is not a JSON string.
func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Classify maps a protocol message to the status it implies.
// The second result is false when the message carries no status transition.
func Classify(env Envelope) (Status, bool) {
	switch env.Type {
	case MsgAuthSuccess:
		return StatusConnected, true
	case MsgAuthQR, MsgAuthCodeNeeded, MsgAuthPhoneNeeded:
		return StatusAuthNeeded, true
	case MsgStatus:
		return classifyStatusData(env.Data)
	default:
		return "", false
	}
}

func classifyStatusData(data json.RawMessage) (Status, bool) {
	if len(data) == 0 {
		return "", false
	}
	var sd statusData
	if err := json.Unmarshal(data, &sd); err != nil {
		return "", false
	}
	return ParseStatus(sd.Status)
}

// DisconnectedEvent is the synthetic payload emitted when a worker exits.
func DisconnectedEvent() json.RawMessage {
	return json.RawMessage(`{"status":"disconnected"}`)
}

// sanitizeLine decodes worker output as UTF-8, replacing invalid sequences.
func sanitizeLine(line []byte) string {
	return strings.ToValidUTF8(string(line), "\uFFFD")
}
