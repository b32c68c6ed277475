package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"payment-router/internal/payment"
)

// ErrNoStatusURL is returned for processors without a status endpoint.
var ErrNoStatusURL = errors.New("processor has no status url")

// Checker reports the live health of one processor.
type Checker interface {
	Check(ctx context.Context, p payment.Processor) (Report, error)
}

// Report is one status observation.
type Report struct {
	ProcessorID string        `json:"processor_id"`
	Status      string        `json:"status"`
	Frozen      bool          `json:"frozen"`
	Degraded    bool          `json:"degraded"`
	SuccessRate float64       `json:"success_rate"`
	HasSuccess  bool          `json:"has_success"`
	Latency     time.Duration `json:"latency"`
	RoundTrip   time.Duration `json:"round_trip"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// Options parameterise the HTTP checker.
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// HTTP polls processor status endpoints.
type HTTP struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewHTTP constructs an HTTP checker.
func NewHTTP(opts Options, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{
		opts:   opts,
		logger: logger.With().Str("component", "status_probe").Logger(),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Check issues GET StatusURL and decodes {status, success_rate, latency_ms}.
// When the endpoint omits latency the measured round trip is used.
func (h *HTTP) Check(ctx context.Context, p payment.Processor) (Report, error) {
	endpoint := strings.TrimSpace(p.StatusURL)
	if endpoint == "" {
		return Report{}, fmt.Errorf("%s: %w", p.ID, ErrNoStatusURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "payrouter/1.0")
	}

	started := h.now()
	resp, err := h.client.Do(req)
	if err != nil {
		return Report{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Report{}, err
	}
	roundTrip := h.now().Sub(started)

	if resp.StatusCode != http.StatusOK {
		return Report{}, parseHTTPError(p.ID, resp.StatusCode, payload)
	}

	var body statusResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return Report{}, fmt.Errorf("decode %s status: %w", p.ID, err)
	}

	report := Report{
		ProcessorID: p.ID,
		Status:      strings.ToLower(strings.TrimSpace(body.Status)),
		RoundTrip:   roundTrip,
		Latency:     roundTrip,
		CheckedAt:   started.UTC(),
	}
	report.Frozen = report.Status == "frozen" || report.Status == "suspended"
	report.Degraded = report.Status == "degraded"
	if body.SuccessRate != nil {
		if *body.SuccessRate < 0 || *body.SuccessRate > 1 {
			return Report{}, fmt.Errorf("%s reported success rate %.4f outside [0,1]", p.ID, *body.SuccessRate)
		}
		report.SuccessRate, report.HasSuccess = *body.SuccessRate, true
	}
	if body.LatencyMS != nil && *body.LatencyMS >= 0 {
		report.Latency = time.Duration(*body.LatencyMS * float64(time.Millisecond))
	}

	h.logger.Debug().
		Str("processor", p.ID).
		Str("status", report.Status).
		Dur("latency", report.Latency).
		Msg("probe completed")

	return report, nil
}

type statusResponse struct {
	Status      string   `json:"status"`
	SuccessRate *float64 `json:"success_rate"`
	LatencyMS   *float64 `json:"latency_ms"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(id string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%s status error (%d): %s", id, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%s status error (%d): %s", id, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s status error (%d): %s", id, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s status error (%d)", id, status)
}

var _ Checker = (*HTTP)(nil)
