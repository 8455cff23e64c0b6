package rpc

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehr/telehealth/internal/platform/wire"
)

type connState int32

const (
	stateOpen connState = iota
	stateReading
	stateDispatching
	stateWriting
	stateClosed
)

func (st connState) String() string {
	switch st {
	case stateOpen:
		return "open"
	case stateReading:
		return "reading"
	case stateDispatching:
		return "dispatching"
	case stateWriting:
		return "writing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// connection owns one client stream.
type connection struct {
	srv     *Server
	nc      net.Conn
	br      *bufio.Reader
	remote  string
	state   atomic.Int32
	served  int
	release sync.Once
}

func newConnection(s *Server, nc net.Conn) *connection {
	return &connection{
		srv:    s,
		nc:     nc,
		br:     bufio.NewReader(nc),
		remote: nc.RemoteAddr().String(),
	}
}

func (c *connection) setState(st connState) { c.state.Store(int32(st)) }
func (c *connection) getState() connState  { return connState(c.state.Load()) }

// serve runs the read, dispatch, write loop until the client goes away, the
// stream breaks, or the server drains.
func (c *connection) serve() {
	s := c.srv
	for {
		// The deadline must be set before the state flips to reading: Shutdown
		// overrides it for connections it finds in that state.
		if s.cfg.IdleTimeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		} else {
			c.nc.SetReadDeadline(time.Time{})
		}
		c.setState(stateReading)
		if s.isDraining() {
			return
		}

		body, err := wire.ReadFrame(c.br, s.cfg.MaxFrameBytes)
		if err != nil {
			c.logReadError(err)
			return
		}

		c.setState(stateDispatching)
		req, err := wire.DecodeRequest(body)
		if err != nil {
			s.logger.Warn().Err(err).Str("remote_addr", c.remote).Msg("protocol error, closing connection")
			return
		}

		resp := s.dispatcher.Dispatch(s.baseCtx, req, c.remote)

		c.setState(stateWriting)
		c.nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := wire.WriteMessage(c.nc, resp); err != nil {
			s.logger.Warn().
				Err(err).
				Str("remote_addr", c.remote).
				Str("request_id", resp.RequestID).
				Msg("response dropped, closing connection")
			return
		}
		c.served++
	}
}

func (c *connection) logReadError(err error) {
	s := c.srv
	log := s.logger.With().Str("remote_addr", c.remote).Logger()

	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.Debug().Msg("client disconnected")
	case wire.IsProtocolError(err):
		log.Warn().Err(err).Msg("protocol error, closing connection")
	case errors.As(err, &netErr) && netErr.Timeout():
		if s.isDraining() {
			log.Debug().Msg("connection drained")
		} else {
			log.Debug().Dur("idle_timeout", s.cfg.IdleTimeout).Msg("idle connection closed")
		}
	default:
		log.Debug().Err(err).Msg("connection read failed")
	}
}

// teardown closes the stream and releases the pool slot. The slot is released
// exactly once however the loop ended.
func (c *connection) teardown() {
	c.release.Do(func() {
		last := c.getState()
		c.setState(stateClosed)
		c.srv.trackConn(c, false)
		c.nc.Close()
		active := c.srv.active.Add(-1)
		c.srv.logger.Debug().
			Str("remote_addr", c.remote).
			Int("requests", c.served).
			Stringer("last_state", last).
			Int64("active", active).
			Msg("connection closed")
	})
}
