package cerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"

	"github.com/opshub/bridge/pkg/clog"
)

// Error pairs a public Code and message with the private underlying error.
// The code and message travel to the client; the underlying error and the
// stack stay in the logs.
type Error struct {
	Code  Code
	Msg   string
	Err   error
	Stack string
}

func NewError(code Code, msg string, underlying error) *Error {
	e := &Error{Code: code, Msg: msg, Err: underlying}
	// Only server-side failures are worth a stack trace.
	if clog.HTTPStatusToLevel(code.HTTPCode()) == clog.LevelError {
		e.Stack = captureStack()
	}
	return e
}

func captureStack() string {
	buf := make([]byte, 2048)
	return string(buf[:runtime.Stack(buf, false)])
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCode reports whether err carries the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

type envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExtractToHTTPResponse renders whatever the handler left in the outcome
// slot: the success body as JSON, or the error envelope with the mapped
// status code. Requests aborted by the client are reported as Canceled
// rather than as a server error.
func ExtractToHTTPResponse(ctx context.Context, rw http.ResponseWriter, o *outcome) {
	err := o.err
	if err == nil {
		writeJSON(ctx, rw, o.response)
		return
	}
	if isClientGone(err) {
		writeError(ctx, rw, NewError(Canceled, "connection closed", err))
		return
	}

	clog.AddError(ctx, err)
	var cErr *Error
	if errors.As(err, &cErr) {
		if cErr.Stack != "" {
			clog.AddStack(ctx, cErr.Stack)
		}
		writeError(ctx, rw, cErr)
		return
	}
	writeError(ctx, rw, NewError(Unknown, "unknown error", err))
}

// isClientGone spots requests aborted by the caller, including the DNS
// resolver's wrapped form of context cancellation.
func isClientGone(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.Err == "operation was canceled"
}

func writeJSON(ctx context.Context, rw http.ResponseWriter, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		writeError(ctx, rw, NewError(Internal, "server error", err))
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := buf.WriteTo(rw); err != nil {
		clog.AddError(ctx, NewError(Internal, "server error", err))
	}
}

func writeError(ctx context.Context, rw http.ResponseWriter, e *Error) {
	body, err := json.Marshal(envelope{Code: e.Code.String(), Message: e.Msg})
	if err != nil {
		body = []byte(`{"code":"Internal","message":"server error"}`)
		e.Err = errors.Join(e.Err, err)
		clog.AddError(ctx, e)
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(e.Code.HTTPCode())
	if _, err := rw.Write(append(body, '\n')); err != nil {
		e.Err = errors.Join(e.Err, err)
		clog.AddError(ctx, e)
	}
}
