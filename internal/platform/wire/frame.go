package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the length of the big-endian uint32 body length that
	// precedes every frame body.
	HeaderSize = 4

	// DefaultMaxFrameSize is the largest body accepted when no limit is
	// configured (1 MB).
	DefaultMaxFrameSize = 1 << 20
)

var (
	// ErrEmptyFrame is returned when a frame header announces a zero-length body.
	ErrEmptyFrame = errors.New("wire: empty frame")

	// ErrFrameTooLarge is returned when a frame header announces a body larger
	// than the configured limit. The body is not read.
	ErrFrameTooLarge = errors.New("wire: frame exceeds max size")
)

// FrameMessage prefixes body with its length:
//
//	<uint32 big-endian len(body)> + body
func FrameMessage(body []byte) []byte {
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame
}

// WriteFrame writes body as a single frame with one Write call, so a frame is
// never interleaved with another writer's bytes on the same conn.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if _, err := w.Write(FrameMessage(body)); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r. It returns io.EOF if r is exhausted
// before any header byte arrives and io.ErrUnexpectedEOF if the stream ends
// inside a frame. maxSize <= 0 means DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n, err := checkLength(binary.BigEndian.Uint32(hdr[:]), maxSize)
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

func checkLength(n uint32, maxSize int) (int, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if n == 0 {
		return 0, ErrEmptyFrame
	}
	if uint64(n) > uint64(maxSize) {
		return 0, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, maxSize)
	}
	return int(n), nil
}

// IsProtocolError reports whether err means the peer broke the framing or
// envelope contract, as opposed to a transport failure or a clean EOF.
func IsProtocolError(err error) bool {
	var syntaxErr *SyntaxError
	return errors.Is(err, ErrEmptyFrame) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.As(err, &syntaxErr)
}
