package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNarrationTruncates(t *testing.T) {
	if got := Narration("Scan2Pay-Mama Put Kitchen"); got != "Scan2Pay-Mama Put Ki" {
		t.Errorf("Narration = %q", got)
	}
	if got := Narration("short"); got != "short" {
		t.Errorf("Narration = %q", got)
	}
}

func TestRejectedErrorMatchesSentinel(t *testing.T) {
	err := error(Rejected(Paystack, "insufficient_funds", "Insufficient balance", []byte(`{"status":false}`)))
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatal("RejectedError should match ErrProviderRejected")
	}
	if errors.Is(err, ErrProviderUnavailable) {
		t.Fatal("RejectedError should not match ErrProviderUnavailable")
	}
	if ErrorCode(err) != "insufficient_funds" {
		t.Errorf("ErrorCode = %q", ErrorCode(err))
	}
	if string(ErrorPayload(err)) != `{"status":false}` {
		t.Errorf("ErrorPayload = %s", ErrorPayload(err))
	}
}

func TestHTTPClientClassifiesResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c := NewHTTPClient("test", srv.URL, 50*time.Millisecond, metrics, discardLogger())
	ctx := context.Background()

	resp, err := c.Do(ctx, Request{Operation: "ok", Method: http.MethodGet, Path: "/ok", Header: BearerHeader("tok")})
	if err != nil || !resp.OK() {
		t.Fatalf("ok: resp=%v err=%v", resp, err)
	}

	resp, err = c.Do(ctx, Request{Operation: "bad", Method: http.MethodPost, Path: "/bad", Body: map[string]string{"a": "b"}, Header: BearerHeader("tok")})
	if err != nil {
		t.Fatalf("4xx should not be a transport error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if _, err := c.Do(ctx, Request{Operation: "down", Method: http.MethodGet, Path: "/down", Header: BearerHeader("tok")}); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("5xx error = %v, want ErrProviderUnavailable", err)
	}

	if _, err := c.Do(ctx, Request{Operation: "slow", Method: http.MethodGet, Path: "/slow", Header: BearerHeader("tok")}); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("timeout error = %v, want ErrProviderUnavailable", err)
	}

	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("test", "bad", "rejected")); got != 1 {
		t.Errorf("rejected counter = %v, want 1", got)
	}
}
