package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrInvalidHeader     = errors.New("invalid header")
)

// Request is an HTTP-shaped call relative to the base URL of whichever node
// serves it. Header uses the wire format "key: value\r\nkey: value".
type Request struct {
	Method string
	Path   string
	Header string
	Body   []byte
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s (header_len=%d, body_size=%d)", r.Method, r.Path, len(r.Header), len(r.Body))
}

// NewCallID returns a fresh id for Execute.
func NewCallID() string {
	return uuid.NewString()
}

func normalizeMethod(method string) (string, error) {
	switch {
	case strings.EqualFold(method, http.MethodGet):
		return http.MethodGet, nil
	case strings.EqualFold(method, http.MethodPost):
		return http.MethodPost, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// ParseHeader parses the wire header format. Empty lines are skipped.
func ParseHeader(raw string) (http.Header, error) {
	header := make(http.Header)
	for _, line := range strings.Split(raw, "\r\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		header.Add(key, strings.TrimSpace(value))
	}
	return header, nil
}
