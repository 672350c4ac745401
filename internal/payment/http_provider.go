package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// ErrProviderRejected is a 4xx answer from the settlement service. It does
// not count against the circuit breaker.
var ErrProviderRejected = errors.New("settlement service rejected request")

type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// HTTPProvider talks JSON to an external settlement service.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payment: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProviderRejected)
		},
	})

	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		breaker:    breaker,
	}, nil
}

type settleBody struct {
	IdempotencyKey string          `json:"idempotency_key"`
	PayerID        string          `json:"payer_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Method         Method          `json:"method"`
	Purpose        string          `json:"purpose"`
}

type settlementBody struct {
	Reference  string          `json:"reference"`
	Authorized decimal.Decimal `json:"authorized"`
	Status     Status          `json:"status"`
}

type reversalBody struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Reversed  bool            `json:"reversed"`
}

func (p *HTTPProvider) Settle(ctx context.Context, req SettleRequest) (SettlementResult, error) {
	body, err := json.Marshal(settleBody{
		IdempotencyKey: req.IdempotencyKey,
		PayerID:        req.PayerID.String(),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		Purpose:        req.Purpose,
	})
	if err != nil {
		return SettlementResult{}, fmt.Errorf("marshal settle body: %w", err)
	}
	data, err := p.invoke(ctx, http.MethodPost, "/settlements", body, req.IdempotencyKey)
	if err != nil {
		return SettlementResult{}, err
	}
	return decodeSettlement(data)
}

func (p *HTTPProvider) Lookup(ctx context.Context, reference string) (SettlementResult, error) {
	data, err := p.invoke(ctx, http.MethodGet, "/settlements/"+url.PathEscape(reference), nil, "")
	if err != nil {
		return SettlementResult{}, err
	}
	return decodeSettlement(data)
}

func (p *HTTPProvider) Reverse(ctx context.Context, reference string, amount decimal.Decimal) (ReversalResult, error) {
	body, err := json.Marshal(map[string]decimal.Decimal{"amount": amount})
	if err != nil {
		return ReversalResult{}, fmt.Errorf("marshal reversal body: %w", err)
	}
	data, err := p.invoke(ctx, http.MethodPost, "/settlements/"+url.PathEscape(reference)+"/reversals", body, "reversal:"+reference)
	if err != nil {
		return ReversalResult{}, err
	}
	var out reversalBody
	if err := json.Unmarshal(data, &out); err != nil {
		return ReversalResult{}, fmt.Errorf("decode reversal: %w", err)
	}
	return ReversalResult(out), nil
}

func decodeSettlement(data []byte) (SettlementResult, error) {
	var out settlementBody
	if err := json.Unmarshal(data, &out); err != nil {
		return SettlementResult{}, fmt.Errorf("decode settlement: %w", err)
	}
	if out.Reference == "" {
		return SettlementResult{}, errors.New("settlement response missing reference")
	}
	return SettlementResult(out), nil
}

func (p *HTTPProvider) invoke(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	return p.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %w", ErrProviderRejected, ErrUnknownReference)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return data, nil
	})
}
