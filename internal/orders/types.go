package orders

import "time"

type Kind string

const (
	KindStopLoss     Kind = "STOP_LOSS"
	KindTakeProfit   Kind = "TAKE_PROFIT"
	KindTrailingStop Kind = "TRAILING_STOP"
	KindOCO          Kind = "OCO"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusTriggered Status = "TRIGGERED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Open reports whether the order can still trigger or be cancelled.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusActive
}

type StopLoss struct {
	StopPrice float64 `json:"stop_price"`
}

// Level is one tranche of a multi-level take-profit.
type Level struct {
	Multiplier  float64    `json:"multiplier"`
	TargetPrice float64    `json:"target_price"`
	Quantity    int64      `json:"quantity"`
	Triggered   bool       `json:"triggered"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
}

// TakeProfit is either a single target (no Levels) or a ladder.
type TakeProfit struct {
	TargetPrice float64 `json:"target_price"`
	Levels      []Level `json:"levels,omitempty"`
}

type Trailing struct {
	TrailPercent     float64 `json:"trail_percent"`
	HighWaterMark    float64 `json:"high_water_mark"`
	CurrentStopPrice float64 `json:"current_stop_price"`
}

// OCO links the two legs of a one-cancels-other pair.
type OCO struct {
	StopLossID   string `json:"stop_loss_id"`
	TakeProfitID string `json:"take_profit_id"`
	TriggeredLeg string `json:"triggered_leg,omitempty"`
}

// Order is a derived protective order. Exactly one of the variant pointers
// matching Kind is set. OCO legs are ordinary STOP_LOSS / TAKE_PROFIT orders
// carrying ParentID.
type Order struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Symbol        string     `json:"symbol"`
	Quantity      int64      `json:"quantity"`
	EntryPrice    float64    `json:"entry_price"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	TriggeredAt   *time.Time `json:"triggered_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	SourceTradeID string     `json:"source_trade_id,omitempty"`
	GroupID       string     `json:"group_id,omitempty"`
	ParentID      string     `json:"parent_id,omitempty"`

	StopLoss   *StopLoss   `json:"stop_loss,omitempty"`
	TakeProfit *TakeProfit `json:"take_profit,omitempty"`
	Trailing   *Trailing   `json:"trailing,omitempty"`
	OCO        *OCO        `json:"oco,omitempty"`
}

func (o Order) clone() Order {
	out := o
	if o.TriggeredAt != nil {
		t := *o.TriggeredAt
		out.TriggeredAt = &t
	}
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		out.ExpiresAt = &t
	}
	if o.StopLoss != nil {
		v := *o.StopLoss
		out.StopLoss = &v
	}
	if o.TakeProfit != nil {
		v := *o.TakeProfit
		if len(o.TakeProfit.Levels) > 0 {
			v.Levels = make([]Level, len(o.TakeProfit.Levels))
			copy(v.Levels, o.TakeProfit.Levels)
			for i := range v.Levels {
				if ts := v.Levels[i].TriggeredAt; ts != nil {
					t := *ts
					v.Levels[i].TriggeredAt = &t
				}
			}
		}
		out.TakeProfit = &v
	}
	if o.Trailing != nil {
		v := *o.Trailing
		out.Trailing = &v
	}
	if o.OCO != nil {
		v := *o.OCO
		out.OCO = &v
	}
	return out
}

// SellInstruction is emitted when an order (or one of its levels) fires.
type SellInstruction struct {
	OrderID  string  `json:"order_id"`
	GroupID  string  `json:"group_id"`
	Symbol   string  `json:"symbol"`
	Kind     Kind    `json:"kind"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason"`
}

// Snapshot is the persisted ledger state.
type Snapshot struct {
	Orders    []Order          `json:"orders"`
	Remaining map[string]int64 `json:"remaining"`
}
