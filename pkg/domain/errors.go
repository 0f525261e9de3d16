package domain

import (
	"github.com/pkg/errors"
	"net/http"
)

var (
	ErrPasteNotFound        = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteTooLarge        = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusRequestEntityTooLarge)
	ErrContentRequired      = NewErr("CONTENT_REQUIRED", "content is required and must be a non-empty string", http.StatusBadRequest)
	ErrInvalidTTL           = NewErr("INVALID_TTL", "ttl_seconds must be an integer >= 1", http.StatusBadRequest)
	ErrInvalidMaxViews      = NewErr("INVALID_MAX_VIEWS", "max_views must be an integer >= 1", http.StatusBadRequest)
	ErrInvalidRequest       = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrUnsupportedMediaType = NewErr("UNSUPPORTED_MEDIA_TYPE", "expected Content-Type: application/json", http.StatusUnsupportedMediaType)
	ErrInternalServer       = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrShuttingDown         = NewErr("SHUTTING_DOWN", "service shutting down", http.StatusServiceUnavailable)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error     ErrDetail `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}
type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func asErr(err error) (*Err, bool) {
	if e, ok := err.(*Err); ok {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	return nil, false
}
func ToResp(err error) ErrResp {
	if e, ok := asErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}
func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

// IsValidation reports whether err is a client input error.
func IsValidation(err error) bool {
	e, ok := asErr(err)
	return ok && e.Status >= 400 && e.Status < 500 && e != ErrPasteNotFound
}
