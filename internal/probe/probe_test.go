package probe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"payment-router/internal/payment"
)

func newChecker() *HTTP {
	return NewHTTP(Options{Timeout: time.Second, UserAgent: "test"}, zerolog.Nop())
}

func TestCheckWithoutStatusURL(t *testing.T) {
	_, err := newChecker().Check(context.Background(), payment.Processor{ID: "stripe"})
	if !errors.Is(err, ErrNoStatusURL) {
		t.Fatalf("expected ErrNoStatusURL, got %v", err)
	}
}

func TestCheckHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "maintenance"})
	}))
	defer srv.Close()

	_, err := newChecker().Check(context.Background(), payment.Processor{ID: "paypal", StatusURL: srv.URL})
	if err == nil {
		t.Fatal("HTTP 503 should return an error")
	}
	if got := err.Error(); got != "paypal status error (503): maintenance" {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestCheckSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test" {
			t.Errorf("user agent not forwarded: %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "FROZEN",
			"success_rate": 0.91,
			"latency_ms":   420,
		})
	}))
	defer srv.Close()

	report, err := newChecker().Check(context.Background(), payment.Processor{ID: "stripe", StatusURL: srv.URL})
	if err != nil {
		t.Fatalf("successful response should not fail: %v", err)
	}
	if !report.Frozen || report.Status != "frozen" {
		t.Fatalf("expected frozen report, got %+v", report)
	}
	if !report.HasSuccess || report.SuccessRate != 0.91 {
		t.Fatalf("expected success rate 0.91, got %+v", report)
	}
	if report.Latency != 420*time.Millisecond {
		t.Fatalf("expected 420ms latency, got %s", report.Latency)
	}
}

func TestCheckFallsBackToRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	report, err := newChecker().Check(context.Background(), payment.Processor{ID: "visa", StatusURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Frozen || report.HasSuccess {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Latency != report.RoundTrip {
		t.Fatalf("latency should equal round trip when omitted")
	}
}

func TestCheckReportsDegradedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": " Degraded ", "success_rate": 0.99})
	}))
	defer srv.Close()

	report, err := newChecker().Check(context.Background(), payment.Processor{ID: "paypal", StatusURL: srv.URL})
	if err != nil {
		t.Fatalf("degraded response should not fail: %v", err)
	}
	if !report.Degraded || report.Frozen || report.Status != "degraded" {
		t.Fatalf("expected degraded report, got %+v", report)
	}
}

func TestCheckRejectsOutOfRangeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"active","success_rate":1.7}`))
	}))
	defer srv.Close()

	if _, err := newChecker().Check(context.Background(), payment.Processor{ID: "visa", StatusURL: srv.URL}); err == nil {
		t.Fatal("success rate above one should be rejected")
	}
}
