package engine

import (
	"errors"
	"time"

	"autotrader/internal/decision"
	"autotrader/internal/queue"
)

var (
	ErrMarketClosed      = errors.New("market closed")
	ErrDrawdownBreached  = errors.New("portfolio drawdown limit breached")
	ErrEmergencyStop     = errors.New("emergency stop")
	ErrNotRunning        = errors.New("bot is not running")
	ErrInvalidTransition = errors.New("invalid bot state transition")
)

type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateError   State = "ERROR"
)

// Active reports whether the run loop should be alive in s.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// ScanReport summarizes one scan. Skipped is set when a gate ended the scan
// early; IntakeSkipped when only new recommendations were suppressed.
type ScanReport struct {
	StartedAt       time.Time           `json:"started_at"`
	Duration        time.Duration       `json:"duration"`
	Forced          bool                `json:"forced"`
	Skipped         string              `json:"skipped,omitempty"`
	IntakeSkipped   string              `json:"intake_skipped,omitempty"`
	Advisory        string              `json:"advisory,omitempty"`
	Candidates      int                 `json:"candidates"`
	Recommendations int                 `json:"recommendations"`
	ProtectiveSells int                 `json:"protective_sells"`
	Decisions       []decision.Decision `json:"decisions,omitempty"`
	Executed        []queue.Trade       `json:"executed,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// Status is the read-only view served to the host.
type Status struct {
	State         State       `json:"state"`
	Reason        string      `json:"reason,omitempty"`
	Advisory      string      `json:"advisory,omitempty"`
	LastScan      *ScanReport `json:"last_scan,omitempty"`
	ScanCount     int         `json:"scan_count"`
	PendingTrades int         `json:"pending_trades"`
	ActiveOrders  int         `json:"active_orders"`
	Today         queue.Stats `json:"today"`
	Circuit       string      `json:"circuit"`
	DataFailures  int         `json:"data_failures"`
	DrawdownScans int         `json:"drawdown_scans"`
}
