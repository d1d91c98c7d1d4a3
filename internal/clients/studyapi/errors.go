package studyapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/httpx"
)

type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if msg == "" {
		msg = "http error"
	}
	if strings.TrimSpace(e.Code) != "" {
		return fmt.Sprintf("http error: status=%d code=%s message=%s", e.StatusCode, strings.TrimSpace(e.Code), msg)
	}
	return fmt.Sprintf("http error: status=%d message=%s", e.StatusCode, msg)
}

// Retryable reports whether the request may succeed if repeated.
func (e *HTTPError) Retryable() bool { return httpx.IsRetryableHTTPStatus(e.StatusCode) }

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

// parseHTTPError decodes {"error":{"message","code"}} or {"message"} bodies and
// classifies client errors so callers stop retrying them.
func parseHTTPError(op string, status int, raw []byte) error {
	body := strings.TrimSpace(string(raw))
	herr := &HTTPError{StatusCode: status, Body: body}

	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code,omitempty"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		herr.Message = strings.TrimSpace(env.Error.Message)
		herr.Code = strings.TrimSpace(env.Error.Code)
		if herr.Message == "" {
			herr.Message = strings.TrimSpace(env.Message)
		}
	}

	switch {
	case status == http.StatusNotFound:
		return errs.New(errs.KindNotFound, op, herr)
	case status >= 400 && status < 500 && !herr.Retryable():
		return errs.New(errs.KindInvalidArgument, op, herr)
	default:
		return herr
	}
}
