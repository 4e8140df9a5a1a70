package coinbasefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
	"github.com/ledgerswap-network/ledgerswap-daemon/pkg/circuitbreaker"
)

const (
	// DefaultBaseURL is the coinbase public data API endpoint.
	DefaultBaseURL = "https://api.coinbase.com"

	spotPath       = "/v2/prices/BTC-USD/spot"
	requestTimeout = 10 * time.Second
)

type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

type service struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

// NewService returns a PriceSource polling the coinbase spot price endpoint.
// An empty baseURL falls back to the public API.
func NewService(baseURL string) ports.PriceSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &service{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		cb:      circuitbreaker.NewCircuitBreaker("coinbase"),
	}
}

func (s *service) LatestPrice(ctx context.Context) (float64, error) {
	price, err := s.cb.Execute(func() (interface{}, error) {
		return s.fetchSpot(ctx)
	})
	if err != nil {
		return 0, domain.WrapError(domain.KindUpstream, "fetching coinbase spot price", err)
	}
	return price.(float64), nil
}

func (s *service) fetchSpot(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+spotPath, nil)
	if err != nil {
		return 0, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	var payload spotResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return 0, err
	}

	amount, err := decimal.NewFromString(payload.Data.Amount)
	if err != nil {
		return 0, fmt.Errorf("parsing spot amount %q: %w", payload.Data.Amount, err)
	}
	price, _ := amount.Float64()
	if price <= 0 {
		return 0, fmt.Errorf("non-positive spot price %s", amount)
	}
	return price, nil
}
