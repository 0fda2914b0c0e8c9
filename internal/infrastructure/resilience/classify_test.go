package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/sony/gobreaker/v2"
)

func TestClassifyCommon(t *testing.T) {
	if class, ok := ClassifyCommon(fmt.Errorf("call: %w", context.DeadlineExceeded)); !ok || class != Ignored {
		t.Fatalf("deadline: got %+v ok=%v", class, ok)
	}
	if class, ok := ClassifyCommon(gobreaker.ErrOpenState); !ok || class != Transient {
		t.Fatalf("open breaker: got %+v ok=%v", class, ok)
	}
	if _, ok := ClassifyCommon(errors.New("other")); ok {
		t.Fatalf("expected unknown error to be left to the adapter")
	}
}

func TestClassifyNetwork(t *testing.T) {
	err := fmt.Errorf("post: %w", &net.OpError{Op: "dial", Err: errors.New("connection refused")})
	if class, ok := ClassifyNetwork(err); !ok || class != Transient {
		t.Fatalf("got %+v ok=%v", class, ok)
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]ErrorClassification{
		http.StatusTooManyRequests:     Transient,
		http.StatusServiceUnavailable:  Transient,
		http.StatusNotImplemented:      Permanent,
		http.StatusBadRequest:          Ignored,
		http.StatusUnprocessableEntity: Ignored,
	}
	for code, want := range cases {
		if got := ClassifyHTTPStatus(code); got != want {
			t.Fatalf("ClassifyHTTPStatus(%d) = %+v, want %+v", code, got, want)
		}
	}
}
