package remote

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-compta-client/internal/logging"
	"github.com/pkg/errors"
)

// Kind separates calls the backend answered from calls that never got an answer.
type Kind string

const (
	// KindRejected means the backend answered with a non-2xx status.
	KindRejected Kind = "rejected"
	// KindTransport means no usable response was received.
	KindTransport Kind = "transport"
)

const (
	CodeTimeout     = "timeout"
	CodeCanceled    = "canceled"
	CodeUnreachable = "unreachable"
	CodeBadResponse = "bad_response"
)

// Error is the normalized failure of a remote operation. Message is meant to
// be shown to the user as is.
type Error struct {
	Operation string
	Message   string
	Code      string
	Status    int
	Kind      Kind
	Err       error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the operation hit its deadline.
func (e *Error) Timeout() bool {
	return e.Kind == KindTransport && e.Code == CodeTimeout
}

// IsTimeout reports whether err is a remote Error caused by a deadline.
func IsTimeout(err error) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Timeout()
}

// StatusCode returns the HTTP status of a rejected call, or 0.
func StatusCode(err error) int {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Status
	}
	return 0
}

func rejected(op string, status int, body []byte) *Error {
	return &Error{
		Operation: op,
		Message:   detailMessage(status, body),
		Code:      statusCode(status),
		Status:    status,
		Kind:      KindRejected,
	}
}

func transport(op string, err error) *Error {
	err = redactURL(err)
	e := &Error{Operation: op, Kind: KindTransport, Err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		e.Code = CodeTimeout
		e.Message = "the server took too long to respond"
	case errors.Is(err, context.Canceled):
		e.Code = CodeCanceled
		e.Message = "the request was cancelled"
	default:
		e.Code = CodeUnreachable
		e.Message = "the server could not be reached"
	}
	return e
}

// redactURL masks credential query parameters in the URL carried by a
// *url.Error. Its text is otherwise logged and wrapped with the full token.
func redactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, perr := url.Parse(urlErr.URL)
	if perr != nil {
		return &url.Error{Op: urlErr.Op, URL: "<redacted>", Err: urlErr.Err}
	}
	q := u.Query()
	if _, ok := q["token"]; !ok {
		return err
	}
	q.Set("token", logging.Fingerprint(q.Get("token")))
	u.RawQuery = q.Encode()
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}

func badResponse(op string, status int, err error) *Error {
	return &Error{
		Operation: op,
		Message:   "the server returned an unreadable response",
		Code:      CodeBadResponse,
		Status:    status,
		Kind:      KindTransport,
		Err:       err,
	}
}

// detailMessage extracts the FastAPI "detail" field. It may be a string or a
// structured validation report, which is passed through as JSON text.
func detailMessage(status int, body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Detail) > 0 && string(payload.Detail) != "null" {
			var s string
			if err := json.Unmarshal(payload.Detail, &s); err == nil {
				return s
			}
			return string(payload.Detail)
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(http.StatusText(status)); text != "" {
		return text
	}
	return "HTTP " + strconv.Itoa(status)
}

func statusCode(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return "invalid"
	case status >= 500:
		return "server_error"
	default:
		return "http_" + strconv.Itoa(status)
	}
}
