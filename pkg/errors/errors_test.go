package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrEntityNotFound, http.StatusNotFound},
		{"throttled bump", &TooSoonError{LastChanged: time.Now(), MinInterval: time.Minute}, http.StatusTooManyRequests},
		{"cursor resume", ErrResumeUnsupported, http.StatusBadRequest},
		{"queue down", fmt.Errorf("offering: %w", ErrQueueBackend), http.StatusServiceUnavailable},
		{"app error wins", New(ErrEntityNotFound, 410, "tombstoned"), http.StatusGone},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatusCode(tc.err); got != tc.want {
			t.Errorf("%s: HTTPStatusCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}
