package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/decision"
	"autotrader/internal/metrics"
	"autotrader/internal/pkg/circuit"
	"autotrader/internal/provider"
	"autotrader/internal/queue"
	"autotrader/internal/risk"
	"autotrader/internal/types"

	"golang.org/x/sync/errgroup"
)

const quoteFetchParallelism = 4

// scan runs one cycle: emergency check, market-hours gate, drawdown gate,
// daily-limit gate, protective sweep, candidate intake, recommendations,
// decisions and finally a queue drain.
func (o *Orchestrator) scan(ctx context.Context, forced bool) (report ScanReport, err error) {
	o.scanMu.Lock()
	defer o.scanMu.Unlock()

	cfg := o.Config()
	now := o.now()
	report = ScanReport{StartedAt: now, Forced: forced}
	defer func() {
		report.Duration = o.now().Sub(now)
		if err != nil {
			report.Error = err.Error()
		}
		metrics.ObserveScan(report.Duration.Seconds())
		metrics.QueuePending(len(o.queue.Pending()))
		o.recordScan(report)
	}()

	// 1. emergency stop
	if em := risk.IsEmergencyStopRequired(o.emergencyState(), cfg); em.Required {
		target := StateStopped
		if em.Fatal {
			target = StateError
		}
		o.halt(target, "emergency stop: "+em.Reason)
		report.Skipped = em.Reason
		return report, fmt.Errorf("%s: %w", em.Reason, ErrEmergencyStop)
	}

	// 2. market hours
	if cfg.TradingHoursOnly {
		open, cerr := o.clock.IsOpen(ctx, now)
		if cerr != nil {
			o.log.Warnf("market clock: %v", cerr)
		}
		if cerr != nil || !open {
			report.Skipped = ErrMarketClosed.Error()
			return report, ErrMarketClosed
		}
	}

	summary, serr := o.portfolio.GetSummary(ctx)
	if serr != nil {
		o.dataFailure()
		return report, fmt.Errorf("portfolio summary: %w", serr)
	}

	// 3. drawdown
	intake := o.State() == StateRunning
	if !intake {
		report.IntakeSkipped = "bot paused"
	}
	var gateErr error
	if !risk.CheckDrawdown(summary, cfg) {
		o.healthMu.Lock()
		o.health.DrawdownBreachScans++
		scans := o.health.DrawdownBreachScans
		o.healthMu.Unlock()
		reason := fmt.Sprintf("portfolio P/L %.2f%% outside %.2f%% drawdown limit", summary.TotalProfitLossPercent, cfg.MaxPortfolioDrawdownPct)
		if o.State() == StateRunning {
			_ = o.Pause(reason)
		}
		o.log.Warnf("%s (%d consecutive scans)", reason, scans)
		report.IntakeSkipped = reason
		intake = false
		gateErr = fmt.Errorf("%s: %w", reason, ErrDrawdownBreached)
	} else {
		o.healthMu.Lock()
		o.health.DrawdownBreachScans = 0
		o.healthMu.Unlock()
	}

	// 4. daily limits
	if intake {
		if reason := dailyLimitReached(o.queue.DailyStats(now), cfg); reason != "" {
			report.IntakeSkipped = reason
			intake = false
		}
	}

	// 5. protective sweep
	report.ProtectiveSells = o.sweep(ctx, summary, cfg, now)

	if intake {
		o.intake(ctx, &report, summary, cfg, now)
	}

	// 9. drain
	report.Executed = o.drain(ctx)
	o.persistQuota(ctx)
	o.persistQueue(ctx)
	return report, gateErr
}

func dailyLimitReached(stats queue.Stats, cfg config.BotConfig) string {
	if cfg.MaxDailyTrades > 0 && stats.Count >= cfg.MaxDailyTrades {
		return fmt.Sprintf("daily trade limit reached (%d/%d)", stats.Count, cfg.MaxDailyTrades)
	}
	if cfg.MaxDailyAmount > 0 && stats.Amount >= cfg.MaxDailyAmount {
		return fmt.Sprintf("daily amount limit reached (%.2f/%.2f)", stats.Amount, cfg.MaxDailyAmount)
	}
	return ""
}

// sweep evaluates protective orders and position targets against fresh
// quotes and queues URGENT sells for whatever fired.
func (o *Orchestrator) sweep(ctx context.Context, summary types.PortfolioSummary, cfg config.BotConfig, now time.Time) int {
	for _, exp := range o.ledger.ExpireDue(now) {
		o.log.Infof("order %s %s expired", exp.ID, exp.Symbol)
	}
	guarded := make(map[string]bool)
	symbols := make([]string, 0, len(summary.Holdings))
	for _, sym := range o.ledger.ActiveSymbols() {
		guarded[sym] = true
		symbols = append(symbols, sym)
	}
	for _, h := range summary.Holdings {
		if h.Quantity > 0 && !guarded[h.Symbol] {
			symbols = append(symbols, h.Symbol)
		}
	}
	if len(symbols) == 0 {
		return 0
	}
	quotes, failed := o.fetchQuotes(ctx, symbols)
	if failed == len(symbols) {
		o.dataFailure()
	} else {
		o.dataSuccess()
	}

	queued := 0
	prices := make(map[string]float64, len(quotes))
	for _, sym := range sortedKeys(quotes) {
		q := quotes[sym]
		prices[sym] = q.Price
		if guarded[sym] {
			queued += o.enqueueProtective(o.ledger.OnPrice(sym, q.Price, now), now)
		}
	}

	unguarded := make([]types.Holding, 0, len(summary.Holdings))
	for _, h := range summary.Holdings {
		if !guarded[h.Symbol] {
			unguarded = append(unguarded, h)
		}
	}
	for _, tgt := range risk.CheckStopLossTargets(unguarded, prices, cfg) {
		if !tgt.ShouldExecute {
			continue
		}
		source := queue.SourceStopLoss
		if tgt.Type == risk.TargetTakeProfit {
			source = queue.SourceTakeProfit
		}
		_, err := o.queue.Merge(queue.Trade{
			Symbol:       tgt.Symbol,
			Action:       types.ActionSell,
			Quantity:     tgt.Quantity,
			TargetPrice:  tgt.CurrentPrice,
			Priority:     queue.PriorityUrgent,
			CreatedAt:    now,
			ScheduledFor: now,
			Source:       source,
			Reason:       fmt.Sprintf("%s hit: price %.4f vs trigger %.4f", tgt.Type, tgt.CurrentPrice, tgt.TriggerPrice),
		})
		if err != nil {
			o.log.Errorf("enqueue %s sell %s: %v", tgt.Type, tgt.Symbol, err)
			continue
		}
		queued++
	}
	if queued > 0 {
		o.persistLedger(ctx)
	}
	return queued
}

// intake runs steps 6-8: candidates, recommendations and decisions.
func (o *Orchestrator) intake(ctx context.Context, report *ScanReport, summary types.PortfolioSummary, cfg config.BotConfig, now time.Time) {
	candidates, err := o.market.GetCandidates(ctx, cfg.CandidateLimit)
	if err != nil {
		o.dataFailure()
		o.log.Warnf("candidates unavailable: %v", err)
		report.IntakeSkipped = "candidates unavailable"
		return
	}
	symbols := mergeSymbols(candidates, summary.Holdings)
	report.Candidates = len(symbols)
	if len(symbols) == 0 {
		o.dataSuccess()
		return
	}
	quotes, failed := o.fetchQuotes(ctx, symbols)
	if failed == len(symbols) {
		o.dataFailure()
		report.IntakeSkipped = "no quotes for candidates"
		return
	}
	o.dataSuccess()

	recs := make([]types.Recommendation, 0, len(symbols))
	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok {
			continue
		}
		in := provider.PromptInput{Quote: q}
		if h, held := summary.Holding(sym); held {
			in.Held, in.Quantity, in.AverageCost = true, h.Quantity, h.AverageCost
		}
		res, rerr := o.advisor.Recommend(ctx, in)
		if rerr != nil {
			if errors.Is(rerr, provider.ErrQuotaExhausted) {
				report.Advisory = "AI provider quota exhausted for today; recommendations resume after the daily reset"
				o.setAdvisory(report.Advisory)
				o.log.Warnf("%s", report.Advisory)
				break
			}
			o.log.Warnf("recommendation for %s failed: %v", sym, rerr)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if res.FallbackUsed {
			o.log.Infof("recommendation for %s served by fallback provider %s", sym, res.ProviderUsed)
		}
		recs = append(recs, res.Data)
	}
	if report.Advisory == "" {
		o.setAdvisory("")
	}
	report.Recommendations = len(recs)

	report.Decisions = o.decisions.Process(ctx, recs, decision.Context{
		Config:  cfg,
		Summary: summary,
		Quotes:  quotes,
		Now:     now,
	})
	if len(report.Decisions) > 0 {
		o.persistDecisions(ctx)
	}
}

// fetchQuotes loads quotes concurrently. Missing symbols are logged and
// left out of the result.
func (o *Orchestrator) fetchQuotes(ctx context.Context, symbols []string) (map[string]types.Quote, int) {
	var (
		mu     sync.Mutex
		out    = make(map[string]types.Quote, len(symbols))
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFetchParallelism)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			q, err := o.market.GetQuote(gctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || q.Price <= 0 {
				failed++
				o.log.Debugf("quote %s unavailable: %v", sym, err)
				return nil
			}
			out[sym] = q
			return nil
		})
	}
	_ = g.Wait()
	return out, failed
}

func mergeSymbols(candidates []string, holdings []types.Holding) []string {
	seen := make(map[string]bool, len(candidates)+len(holdings))
	out := make([]string, 0, len(candidates)+len(holdings))
	for _, s := range candidates {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, h := range holdings {
		if h.Quantity > 0 && !seen[h.Symbol] {
			seen[h.Symbol] = true
			out = append(out, h.Symbol)
		}
	}
	return out
}

func sortedKeys(m map[string]types.Quote) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Orchestrator) emergencyState() risk.EmergencyState {
	o.healthMu.Lock()
	defer o.healthMu.Unlock()
	st := o.health
	st.CircuitOpen = o.breaker.State() == circuit.StateOpen
	return st
}

func (o *Orchestrator) dataFailure() {
	o.healthMu.Lock()
	o.health.DataFailures++
	o.healthMu.Unlock()
}

func (o *Orchestrator) dataSuccess() {
	o.healthMu.Lock()
	o.health.DataFailures = 0
	o.healthMu.Unlock()
}

func (o *Orchestrator) setAdvisory(msg string) {
	o.healthMu.Lock()
	o.advisory = msg
	o.healthMu.Unlock()
}

func (o *Orchestrator) recordScan(r ScanReport) {
	o.healthMu.Lock()
	o.lastScan = &r
	o.scanCount++
	o.healthMu.Unlock()
}
