package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrRequestFailed         = errors.New("request failed")
	ErrUnsupportedCapability = errors.New("unsupported capability")
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	status := e.Status
	if status == "" {
		status = http.StatusText(e.StatusCode)
	}
	if status == "" {
		status = "http request failed"
	}
	if e.Message != "" {
		return status + ": " + e.Message
	}
	return status
}

func (e *HTTPStatusError) Unwrap() error {
	if e != nil && e.StatusCode == http.StatusUnauthorized {
		return ErrAuthenticationFailed
	}
	return ErrRequestFailed
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return 0
	}
	return statusErr.StatusCode
}

func errorMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg := strings.TrimSpace(envelope.Message); msg != "" {
			return msg
		}
		return strings.TrimSpace(envelope.Error)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
