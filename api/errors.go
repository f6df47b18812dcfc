package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/adeilh/rakhcache/httpx"
)

// Error is a non-2xx answer from the backend.
type Error struct {
	Status int
	Detail string
	Body   []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d: %s", e.Status, e.Detail)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

// IsUnauthorized reports whether err is a backend 401 or 403.
func IsUnauthorized(err error) bool {
	s := statusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

func statusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// classify turns an httpx status error into *Error and passes anything else
// through unchanged.
func classify(err error) error {
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return err
	}
	return &Error{Status: se.Code, Detail: detail(se.Code, se.Body), Body: se.Body}
}

// detail reads the backend's "detail" field. Validation failures carry a list
// of objects with a "msg" each.
func detail(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		d := gjson.GetBytes(body, "detail")
		switch {
		case d.IsArray():
			var msgs []string
			for _, item := range d.Array() {
				if msg := item.Get("msg"); msg.Exists() {
					msgs = append(msgs, msg.String())
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		case d.Exists() && d.String() != "":
			return d.String()
		}
	}
	if raw := strings.TrimSpace(string(body)); raw != "" {
		return raw
	}
	return http.StatusText(status)
}
