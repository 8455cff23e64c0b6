// Package wire defines the framed, versioned message format spoken between
// telehealth clients and the RPC server.
//
// Every message is one frame: a 4-byte big-endian body length followed by a
// JSON object. Requests and responses carry a protocol version in "v".
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Version is the only envelope version this package reads or writes.
const Version = 1

// ErrUnsupportedVersion is returned for an envelope whose "v" is not Version.
var ErrUnsupportedVersion = errors.New("wire: unsupported envelope version")

// SyntaxError wraps a body that is not a well-formed envelope.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string { return "wire: malformed envelope: " + e.Err.Error() }
func (e *SyntaxError) Unwrap() error { return e.Err }

// Request is one client call. ActorID is nil for anonymous calls.
type Request struct {
	V         int             `json:"v"`
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	ActorID   *string         `json:"actorId"`
	Token     string          `json:"token,omitempty"`
	Fields    json.RawMessage `json:"fields,omitempty"`
}

// Actor returns the actor id, or "" when none was sent.
func (r *Request) Actor() string {
	if r.ActorID == nil {
		return ""
	}
	return *r.ActorID
}

// Response answers exactly one Request. Payload is always a JSON object and
// is empty on failure.
type Response struct {
	V         int             `json:"v"`
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodePayload unmarshals the response payload into v.
func (r *Response) DecodePayload(v interface{}) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}

// EmptyPayload is the payload of every failed response.
var EmptyPayload = json.RawMessage(`{}`)

// NewRequest builds a versioned request. fields may be nil.
func NewRequest(requestID, typ, actorID string, fields interface{}) (*Request, error) {
	req := &Request{V: Version, RequestID: requestID, Type: typ}
	if actorID != "" {
		req.ActorID = &actorID
	}
	if fields != nil {
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("wire: encode fields: %w", err)
		}
		req.Fields = raw
	}
	return req, nil
}

// DecodeRequest parses a frame body into a Request.
func DecodeRequest(body []byte) (*Request, error) {
	var req Request
	if err := decodeEnvelope(body, &req); err != nil {
		return nil, err
	}
	if req.V != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, req.V)
	}
	if len(req.Fields) > 0 && !isObjectOrNull(req.Fields) {
		return nil, &SyntaxError{Err: errors.New("fields must be an object")}
	}
	return &req, nil
}

// DecodeResponse parses a frame body into a Response.
func DecodeResponse(body []byte) (*Response, error) {
	var resp Response
	if err := decodeEnvelope(body, &resp); err != nil {
		return nil, err
	}
	if resp.V != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, resp.V)
	}
	return &resp, nil
}

func decodeEnvelope(body []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &SyntaxError{Err: errors.New("body is not a JSON object")}
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return &SyntaxError{Err: err}
	}
	return nil
}

func isObjectOrNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '{' || bytes.Equal(trimmed, []byte("null")))
}

// WriteMessage encodes v as JSON and writes it as one frame.
func WriteMessage(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadResponse reads and decodes one response frame.
func ReadResponse(r io.Reader, maxSize int) (*Response, error) {
	body, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(body)
}
