package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/wire"
)

// Operation names handled by the router itself or exempt from the actor check.
const (
	OpLogin         = "LOGIN"
	OpSignup        = "SIGNUP"
	OpResetPassword = "RESET_PASSWORD"
	OpPing          = "PING"
)

// Response tags used outside the per-operation default.
const (
	TagPong            = "PONG"
	TagUnknown         = "UNKNOWN"
	TagUnauthenticated = "UNAUTHENTICATED"
	TagError           = "ERROR"
)

const msgNotAuthenticated = "Not authenticated"

// publicOps need no actorId.
var publicOps = map[string]bool{
	OpLogin:         true,
	OpSignup:        true,
	OpResetPassword: true,
	OpPing:          true,
}

// Request is a decoded call as seen by a handler.
type Request struct {
	ID         string
	Type       string
	ActorID    string
	Token      string
	Fields     json.RawMessage
	RemoteAddr string
}

// Reply is a successful handler outcome. Payload must marshal to a JSON
// object; nil means an empty payload.
type Reply struct {
	Message string
	Payload interface{}
}

// HandlerFunc serves one operation. A non-nil error produces a failed
// response: errors classified by apperr are reported with their message and
// anything else is reported as a server error.
type HandlerFunc func(ctx context.Context, req *Request) (Reply, error)

// Validator is implemented by payload types that check their own fields.
type Validator interface {
	Validate() error
}

// Typed adapts a handler that takes a typed payload. The request fields are
// decoded into P and validated before fn runs; a decode or validation failure
// is a validation error and fn is not called.
func Typed[P any](fn func(ctx context.Context, req *Request, p *P) (Reply, error)) HandlerFunc {
	return func(ctx context.Context, req *Request) (Reply, error) {
		p := new(P)
		if len(req.Fields) > 0 && string(req.Fields) != "null" {
			if err := json.Unmarshal(req.Fields, p); err != nil {
				return Reply{}, apperr.Validation("Invalid request fields: %s", describeDecodeError(err))
			}
		}
		if v, ok := any(p).(Validator); ok {
			if err := v.Validate(); err != nil {
				if _, classified := apperr.KindOf(err); classified {
					return Reply{}, err
				}
				return Reply{}, apperr.WrapValidation(err)
			}
		}
		return fn(ctx, req, p)
	}
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field %q must be %s", typeErr.Field, typeErr.Type.String())
	}
	return err.Error()
}

// TokenVerifier checks a session token and returns its subject.
type TokenVerifier interface {
	VerifySubject(ctx context.Context, token string) (string, error)
}

type route struct {
	handler HandlerFunc
	tag     string
}

// RouteOption customises a registered operation.
type RouteOption func(*route)

// WithTag overrides the default "<TYPE>_RESPONSE" response tag.
func WithTag(tag string) RouteOption {
	return func(r *route) { r.tag = tag }
}

// Router dispatches requests by type and turns every outcome into exactly one
// response.
type Router struct {
	routes         map[string]*route
	logger         zerolog.Logger
	verifier       TokenVerifier
	requireSession bool
	timeout        time.Duration
	now            func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSessionVerifier requires protected operations to present a token whose
// subject equals the actorId.
func WithSessionVerifier(v TokenVerifier) RouterOption {
	return func(r *Router) {
		r.verifier = v
		r.requireSession = v != nil
	}
}

// WithRequestTimeout bounds each handler call with a context deadline.
func WithRequestTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

// WithClock replaces time.Now for response timestamps.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter returns a router with PING registered.
func NewRouter(logger zerolog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		routes: make(map[string]*route),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Handle(OpPing, func(context.Context, *Request) (Reply, error) {
		return Reply{Message: "Server is alive"}, nil
	}, WithTag(TagPong))
	return r
}

// Handle registers h for typ, replacing any earlier registration.
func (r *Router) Handle(typ string, h HandlerFunc, opts ...RouteOption) {
	rt := &route{handler: h, tag: typ + "_RESPONSE"}
	for _, opt := range opts {
		opt(rt)
	}
	r.routes[typ] = rt
}

// Types returns the registered operation names in sorted order.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.routes))
	for typ := range r.routes {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Dispatch routes req and returns its response. It never panics.
func (r *Router) Dispatch(ctx context.Context, req *wire.Request, remoteAddr string) *wire.Response {
	start := time.Now()
	call := &Request{
		ID:         req.RequestID,
		Type:       req.Type,
		ActorID:    req.Actor(),
		Token:      req.Token,
		Fields:     req.Fields,
		RemoteAddr: remoteAddr,
	}

	resp, fault := r.dispatch(ctx, call)

	var evt *zerolog.Event
	switch {
	case fault != nil:
		evt = r.logger.Error().Err(fault)
	case !resp.Success:
		evt = r.logger.Warn().Str("message", resp.Message)
	default:
		evt = r.logger.Info()
	}
	evt.
		Str("request_id", call.ID).
		Str("type", call.Type).
		Str("actor_id", call.ActorID).
		Str("remote_addr", remoteAddr).
		Bool("success", resp.Success).
		Dur("latency", time.Since(start)).
		Msg("request")

	return resp
}

func (r *Router) dispatch(ctx context.Context, call *Request) (*wire.Response, error) {
	rt, ok := r.routes[call.Type]
	if !ok {
		return r.failure(call, TagUnknown, "Unknown request type: "+call.Type), nil
	}

	if !publicOps[call.Type] {
		if strings.TrimSpace(call.ActorID) == "" {
			return r.failure(call, TagUnauthenticated, msgNotAuthenticated), nil
		}
		if r.requireSession && !r.sessionMatches(ctx, call) {
			return r.failure(call, TagUnauthenticated, msgNotAuthenticated), nil
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	reply, err := r.invoke(ctx, rt.handler, call)
	if err != nil {
		if _, classified := apperr.KindOf(err); classified {
			return r.failure(call, rt.tag, err.Error()), nil
		}
		return r.failure(call, TagError, "Server error: "+err.Error()), err
	}

	payload, err := encodePayload(reply.Payload)
	if err != nil {
		return r.failure(call, TagError, "Server error: "+err.Error()), err
	}
	return &wire.Response{
		V:         wire.Version,
		RequestID: call.ID,
		Type:      rt.tag,
		Success:   true,
		Message:   reply.Message,
		Payload:   payload,
		Timestamp: r.now().UTC(),
	}, nil
}

func (r *Router) sessionMatches(ctx context.Context, call *Request) bool {
	if call.Token == "" || r.verifier == nil {
		return false
	}
	subject, err := r.verifier.VerifySubject(ctx, call.Token)
	if err != nil {
		r.logger.Debug().Err(err).Str("request_id", call.ID).Msg("session token rejected")
		return false
	}
	return subject == call.ActorID
}

// invoke runs h and converts a panic into an error.
func (r *Router) invoke(ctx context.Context, h HandlerFunc, call *Request) (reply Reply, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)

			r.logger.Error().
				Str("request_id", call.ID).
				Str("type", call.Type).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(stack[:n])).
				Msg("panic recovered")

			err = fmt.Errorf("%v", rec)
		}
	}()
	return h(ctx, call)
}

func (r *Router) failure(call *Request, tag, msg string) *wire.Response {
	return &wire.Response{
		V:         wire.Version,
		RequestID: call.ID,
		Type:      tag,
		Success:   false,
		Message:   msg,
		Payload:   wire.EmptyPayload,
		Timestamp: r.now().UTC(),
	}
}

func encodePayload(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return wire.EmptyPayload, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("encode payload: %T is not a JSON object", v)
	}
	return raw, nil
}
