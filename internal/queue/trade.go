package queue

import (
	"time"

	"autotrader/internal/types"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank orders priorities; higher drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Source records what produced a trade.
type Source string

const (
	SourceRecommendation Source = "RECOMMENDATION"
	SourceStopLoss       Source = "STOP_LOSS"
	SourceTakeProfit     Source = "TAKE_PROFIT"
	SourceProtective     Source = "PROTECTIVE_ORDER"
	SourceManual         Source = "MANUAL"
)

// Trade is a scheduled trade. Once terminal it is read-only history.
type Trade struct {
	ID            string       `json:"id"`
	Symbol        string       `json:"symbol"`
	Action        types.Action `json:"action"`
	Quantity      int64        `json:"quantity"`
	TargetPrice   float64      `json:"target_price"`
	Priority      Priority     `json:"priority"`
	CreatedAt     time.Time    `json:"created_at"`
	ScheduledFor  time.Time    `json:"scheduled_for"`
	Status        Status       `json:"status"`
	Source        Source       `json:"source"`
	Reason        string       `json:"reason,omitempty"`
	DecisionID    string       `json:"decision_id,omitempty"`
	OrderID       string       `json:"order_id,omitempty"`
	ExecutedAt    *time.Time   `json:"executed_at,omitempty"`
	ExecutedPrice float64      `json:"executed_price,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// Notional is quantity times the executed price, or the target price while
// the trade has not executed.
func (t Trade) Notional() float64 {
	price := t.ExecutedPrice
	if price <= 0 {
		price = t.TargetPrice
	}
	return float64(t.Quantity) * price
}

// Stats are the daily cap counters.
type Stats struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

type Snapshot struct {
	Pending []Trade `json:"pending"`
	History []Trade `json:"history"`
}
