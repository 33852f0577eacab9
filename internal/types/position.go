package types

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDataUnavailable    = errors.New("market data unavailable")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Quote is a typed price snapshot returned by the market-data collaborator.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
	// DollarVolume is the traded notional over the provider's reference window.
	DollarVolume float64   `json:"dollar_volume"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Liquidity returns the dollar volume, deriving it from volume when the
// source only reports share volume.
func (q Quote) Liquidity() float64 {
	if q.DollarVolume > 0 {
		return q.DollarVolume
	}
	return q.Volume * q.Price
}

type Holding struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AverageCost  float64 `json:"average_cost"`
	CurrentPrice float64 `json:"current_price"`
}

func (h Holding) MarketValue() float64 {
	price := h.CurrentPrice
	if price <= 0 {
		price = h.AverageCost
	}
	return float64(h.Quantity) * price
}

type PortfolioSummary struct {
	CashBalance            float64   `json:"cash_balance"`
	TotalValue             float64   `json:"total_value"`
	TotalProfitLossPercent float64   `json:"total_profit_loss_percent"`
	Holdings               []Holding `json:"holdings"`
}

// Holding looks up the position for symbol.
func (s PortfolioSummary) Holding(symbol string) (Holding, bool) {
	for _, h := range s.Holdings {
		if h.Symbol == symbol && h.Quantity > 0 {
			return h, true
		}
	}
	return Holding{}, false
}

// OpenPositions counts holdings with a positive quantity.
func (s PortfolioSummary) OpenPositions() int {
	n := 0
	for _, h := range s.Holdings {
		if h.Quantity > 0 {
			n++
		}
	}
	return n
}

type TradeRequest struct {
	Symbol   string            `json:"symbol"`
	Action   Action            `json:"action"`
	Quantity int64             `json:"quantity"`
	Price    float64           `json:"price"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarketDataGateway is implemented by the quote/candidate collaborator.
// Implementations may cache or rate-limit; failures surface as
// ErrDataUnavailable.
type MarketDataGateway interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetCandidates(ctx context.Context, limit int) ([]string, error)
}

// PortfolioLedger is the sole mutator of cash and holdings.
type PortfolioLedger interface {
	ExecuteTrade(ctx context.Context, req TradeRequest) (bool, error)
	GetSummary(ctx context.Context) (PortfolioSummary, error)
}
