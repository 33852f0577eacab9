package alpaca

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autotrader/internal/logger"
	"autotrader/internal/market"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

var log = logger.With("alpaca")

type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

type clockAPI interface {
	GetClock() (*alpaca.Clock, error)
}

// Clock implements market.Clock with the broker's market clock. The answer
// is cached until the next open/close transition the broker announced.
type Clock struct {
	api clockAPI

	mu       sync.Mutex
	open     bool
	validTil time.Time
}

var _ market.Clock = (*Clock)(nil)

func NewClock(cfg Config) *Clock {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return &Clock{api: client}
}

func (c *Clock) IsOpen(ctx context.Context, t time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validTil.IsZero() && t.Before(c.validTil) {
		return c.open, nil
	}
	clk, err := c.api.GetClock()
	if err != nil {
		return false, fmt.Errorf("alpaca clock: %w", err)
	}
	c.open = clk.IsOpen
	if clk.IsOpen {
		c.validTil = clk.NextClose
	} else {
		c.validTil = clk.NextOpen
	}
	log.Debugf("market open=%v until %s", c.open, c.validTil.Format(time.RFC3339))
	return c.open, nil
}
