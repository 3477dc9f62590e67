package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"

	domainerrors "github.com/revealrank/revealrank/internal/errors"
)

// Status is the outcome of one fetch: an HTTP status code rendered as a string
// ("200", "404", "429", ...) or one of the client-side failure kinds below.
type Status string

// Client-side failure kinds. Together with HTTP codes they form the complete taxonomy.
const (
	StatusOK                Status = "200"
	StatusTimeout           Status = "timeout"
	StatusConnectionRefused Status = "connectionRefused"
	StatusConnectionReset   Status = "connectionReset"
	StatusConnectionTimeout Status = "connectionTimeout"
	StatusUnknownError      Status = "unknownError"

	// StatusCanceled is reported when the caller's context was canceled.
	StatusCanceled Status = "canceled"
)

// Kind groups statuses for exhaustive switching.
type Kind int

const (
	KindSuccess   Kind = iota // 2xx
	KindHTTP                  // non-2xx HTTP response
	KindTransport             // no HTTP response was received
)

// HTTPStatus renders an HTTP status code as a Status.
func HTTPStatus(code int) Status {
	if code >= 200 && code < 300 {
		return StatusOK
	}
	return Status(strconv.Itoa(code))
}

// Code returns the HTTP status code, or false for transport statuses.
func (s Status) Code() (int, bool) {
	code, err := strconv.Atoi(string(s))
	if err != nil {
		return 0, false
	}
	return code, true
}

// Kind classifies the status.
func (s Status) Kind() Kind {
	code, ok := s.Code()
	switch {
	case !ok:
		return KindTransport
	case code >= 200 && code < 300:
		return KindSuccess
	default:
		return KindHTTP
	}
}

// ErrorCode places the status in the error taxonomy. Success has no code.
func (s Status) ErrorCode() domainerrors.Code {
	switch s.Kind() {
	case KindSuccess:
		return ""
	case KindHTTP:
		code, _ := s.Code()
		switch code {
		case http.StatusTooManyRequests:
			return domainerrors.CodeTransientNetwork
		case http.StatusNotFound, http.StatusGone:
			return domainerrors.CodeNotFound
		}
		return domainerrors.CodeInternal
	case KindTransport:
		switch s {
		case StatusTimeout, StatusConnectionRefused, StatusConnectionReset:
			return domainerrors.CodeTransientNetwork
		case StatusCanceled:
			return domainerrors.CodeCanceled
		case StatusConnectionTimeout, StatusUnknownError:
			return domainerrors.CodeInternal
		}
	}
	return domainerrors.CodeInternal
}

// ClassifyError maps a transport error to a client-side Status. ctx is the request
// context; its cancellation (as opposed to its deadline) yields StatusCanceled.
func ClassifyError(ctx context.Context, err error) Status {
	if err == nil {
		return StatusOK
	}
	if ctx != nil && errors.Is(ctx.Err(), context.Canceled) {
		return StatusCanceled
	}

	var opErr *net.OpError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return StatusConnectionRefused
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return StatusConnectionReset
	case errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout():
		return StatusConnectionTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	return StatusUnknownError
}
