package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/governor"
	"github.com/xkilldash9x/linkedin-inbox/internal/observability"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorBody is every non-2xx response.
type errorBody struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// rateLimitedBody answers a governor or throttle denial.
type rateLimitedBody struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	// WaitTime is in milliseconds.
	WaitTime        int64            `json:"waitTime"`
	RateLimitStatus *governor.Status `json:"rateLimitStatus,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = codec.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	err := codec.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.New(apperr.KindValidation, "api.decode", "invalid JSON body")
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.KindValidation, "api.path", "invalid conversation id")
	}
	return id, nil
}

// fail maps err onto a response. Rate limited errors carry the governor
// status of key when one is given.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, key string, err error) {
	status := apperr.HTTPStatus(err)
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindRateLimited {
		body := rateLimitedBody{
			Reason:   ae.Reason,
			Message:  "Rate limit exceeded: " + ae.Reason,
			WaitTime: ae.WaitTime.Milliseconds(),
		}
		if key != "" {
			st := s.gov.Status(key)
			body.RateLimitStatus = &st
		}
		w.Header().Set("Retry-After", strconv.FormatInt(int64(ae.WaitTime.Seconds())+1, 10))
		writeJSON(w, status, body)
		return
	}

	body := errorBody{Reason: string(apperr.KindOf(err)), Message: apperr.ReasonOf(err)}
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("Request failed.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if apperr.KindOf(err) == apperr.KindInternal {
			body.Message = "internal server error"
		}
	}
	writeJSON(w, status, body)
}
