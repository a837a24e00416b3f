package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	balanceQuery = `query MyselfBalance { myself { clientBalance currentSpendPerHr } }`

	fetchAttempts = 3
)

var fetchBackoffBase = time.Second

// RunPodOptions parameterise the RunPod balance fetcher.
type RunPodOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// RunPod fetches account balance via the RunPod GraphQL API.
type RunPod struct {
	opts    RunPodOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewRunPod constructs a RunPod balance fetcher.
func NewRunPod(opts RunPodOptions, logger zerolog.Logger) *RunPod {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.io/graphql"
	}

	return &RunPod{
		opts:    opts,
		logger:  logger.With().Str("component", "runpod_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchBalance retrieves the current balance and spend rate.
// Transient failures are retried with exponential backoff before giving up.
func (r *RunPod) FetchBalance(ctx context.Context) (Snapshot, error) {
	if r.opts.APIKey == "" {
		return Snapshot{}, errors.New("runpod api key not configured")
	}

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<attempt) * fetchBackoffBase
			r.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", wait).Msg("balance fetch failed, retrying")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Snapshot{}, ctx.Err()
			case <-timer.C:
			}
		}

		snapshot, err := r.fetchOnce(ctx)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
	}

	return Snapshot{}, fmt.Errorf("fetch balance: %w", lastErr)
}

func (r *RunPod) fetchOnce(ctx context.Context) (Snapshot, error) {
	body, err := json.Marshal(map[string]string{"query": balanceQuery})
	if err != nil {
		return Snapshot{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.opts.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res balanceResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Snapshot{}, fmt.Errorf("decode balance response: %w", err)
	}
	if len(res.Errors) > 0 {
		return Snapshot{}, fmt.Errorf("runpod api error: %s", res.Errors[0].Message)
	}

	balance := decimal.NewFromFloat(res.Data.Myself.ClientBalance)
	spend := decimal.NewFromFloat(res.Data.Myself.CurrentSpendPerHr)
	if spend.IsNegative() {
		return Snapshot{}, fmt.Errorf("runpod returned negative spend rate %s", spend)
	}

	return Snapshot{
		Balance:      balance,
		SpendPerHour: spend,
		ObservedAt:   time.Now().UTC(),
	}, nil
}

type balanceResponse struct {
	Data struct {
		Myself struct {
			ClientBalance     float64 `json:"clientBalance"`
			CurrentSpendPerHr float64 `json:"currentSpendPerHr"`
		} `json:"myself"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("runpod api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("runpod api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("runpod api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("runpod api error (%d)", status)
}

var _ BalanceFetcher = (*RunPod)(nil)
