package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

// =========== Framing Tests ===========

func TestFrameMessage(t *testing.T) {
	body := []byte(`{"v":1}`)
	framed := FrameMessage(body)

	if len(framed) != HeaderSize+len(body) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+len(body), len(framed))
	}
	if n := binary.BigEndian.Uint32(framed); n != uint32(len(body)) {
		t.Errorf("expected length prefix %d, got %d", len(body), n)
	}
	if !bytes.Equal(framed[HeaderSize:], body) {
		t.Error("body bytes do not match original")
	}
}

func TestReadFrame_BackToBack(t *testing.T) {
	msg1 := []byte("MSG_ONE")
	msg2 := []byte("MSG_TWO")
	r := bytes.NewReader(append(FrameMessage(msg1), FrameMessage(msg2)...))

	for _, want := range [][]byte{msg1, msg2} {
		got, err := ReadFrame(r, 0)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
	if _, err := ReadFrame(r, 0); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFrame(&buf, []byte("world")); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, want := range []string{"hello", "world"} {
		got, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
	if _, err := ReadFrame(&buf, 0); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadFrame_Empty(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}), 0)
	if !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
	if !IsProtocolError(err) {
		t.Error("expected empty frame to be a protocol error")
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	framed := FrameMessage(bytes.Repeat([]byte("x"), 65))
	_, err := ReadFrame(bytes.NewReader(framed), 64)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
	if !IsProtocolError(err) {
		t.Error("expected oversized frame to be a protocol error")
	}

	if _, err := ReadFrame(bytes.NewReader(framed), 65); err != nil {
		t.Errorf("expected frame at exactly the limit to be accepted, got %v", err)
	}
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	framed := FrameMessage([]byte("truncated"))
	_, err := ReadFrame(bytes.NewReader(framed[:len(framed)-3]), 0)
	if err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
	if IsProtocolError(err) {
		t.Error("truncation is a transport failure, not a protocol error")
	}
}

func TestWriteFrame_RejectsEmpty(t *testing.T) {
	if err := WriteFrame(io.Discard, nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

// =========== Envelope Tests ===========

func TestDecodeRequest(t *testing.T) {
	body := []byte(`{"v":1,"requestId":"r1","type":"GET_APPOINTMENTS","actorId":"PAT001","fields":{"patientId":"PAT001"}}`)
	req, err := DecodeRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.RequestID != "r1" || req.Type != "GET_APPOINTMENTS" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Actor() != "PAT001" {
		t.Errorf("expected actor PAT001, got %q", req.Actor())
	}
	if string(req.Fields) != `{"patientId":"PAT001"}` {
		t.Errorf("expected fields preserved verbatim, got %s", req.Fields)
	}
}

func TestDecodeRequest_NullActor(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"v":1,"requestId":"r1","type":"PING","actorId":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ActorID != nil || req.Actor() != "" {
		t.Errorf("expected no actor, got %v", req.ActorID)
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantVer bool
	}{
		{"not json", "hello", false},
		{"array", `[1,2]`, false},
		{"truncated", `{"v":1,"type":`, false},
		{"fields not object", `{"v":1,"type":"PING","fields":[1]}`, false},
		{"missing version", `{"type":"PING"}`, true},
		{"future version", `{"v":2,"type":"PING"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsProtocolError(err) {
				t.Errorf("expected protocol error, got %v", err)
			}
			if tt.wantVer != errors.Is(err, ErrUnsupportedVersion) {
				t.Errorf("unexpected version classification for %v", err)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("r9", "LOGIN", "", map[string]string{"username": "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.V != Version || req.ActorID != nil {
		t.Errorf("unexpected request %+v", req)
	}
	if !strings.Contains(string(req.Fields), `"username":"alice"`) {
		t.Errorf("unexpected fields %s", req.Fields)
	}
}

func TestResponse_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sent := &Response{V: Version, RequestID: "r1", Type: "PONG", Success: true, Message: "Server is alive", Payload: EmptyPayload}
	if err := WriteMessage(&buf, sent); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadResponse(&buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.RequestID != "r1" || got.Type != "PONG" || !got.Success || got.Message != "Server is alive" {
		t.Errorf("unexpected response %+v", got)
	}

	var payload map[string]interface{}
	if err := got.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("expected empty payload, got %v", payload)
	}
}
