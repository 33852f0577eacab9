package engine

import (
	"context"

	"autotrader/internal/config"
	"autotrader/internal/decision"
	"autotrader/internal/orders"
	"autotrader/internal/queue"
	"autotrader/internal/quota"
	"autotrader/internal/store"
)

// Restore reloads bot config, queue, decisions, order ledger and quota
// usage. Failures are logged and the engine continues with what it has.
func (o *Orchestrator) Restore(ctx context.Context) {
	if o.store == nil {
		return
	}
	var cfg config.BotConfig
	if found, err := store.LoadJSON(ctx, o.store, store.KeyBotConfig, &cfg); err != nil {
		o.log.Warnf("restore bot config: %v", err)
	} else if found {
		if err := cfg.Validate(); err != nil {
			o.log.Warnf("persisted bot config rejected: %v", err)
		} else {
			o.cfgMu.Lock()
			o.cfg = cfg
			o.cfgMu.Unlock()
			o.breaker.SetThreshold(cfg.MaxConsecutiveFailures)
		}
	}

	var snap queue.Snapshot
	if found, err := store.LoadJSON(ctx, o.store, store.KeyExecutionQueue, &snap); err != nil {
		o.log.Warnf("restore queue: %v", err)
	} else if found {
		o.queue.Restore(snap)
	}

	var decisions []decision.Decision
	if found, err := store.LoadJSON(ctx, o.store, store.KeyDecisions, &decisions); err != nil {
		o.log.Warnf("restore decisions: %v", err)
	} else if found {
		o.decisions.Restore(decisions, o.now())
	}

	var ledger orders.Snapshot
	if found, err := store.LoadJSON(ctx, o.store, store.KeyOrderLedger, &ledger); err != nil {
		o.log.Warnf("restore order ledger: %v", err)
	} else if found {
		o.ledger.Restore(ledger)
	}

	if o.tracker != nil {
		var usage quota.Snapshot
		if found, err := store.LoadJSON(ctx, o.store, store.KeyQuotaUsage, &usage); err != nil {
			o.log.Warnf("restore quota usage: %v", err)
		} else if found {
			o.tracker.Restore(usage)
		}
	}
	o.log.Infof("state restored: pending=%d orders=%d decisions=%d",
		len(o.queue.Pending()), len(o.ledger.Active()), len(o.decisions.Decisions(0)))
}

func (o *Orchestrator) save(ctx context.Context, key string, v any) {
	if o.store == nil {
		return
	}
	if err := store.SaveJSON(context.WithoutCancel(ctx), o.store, key, v); err != nil {
		o.log.Warnf("persistence degraded, keeping %s in memory: %v", key, err)
	}
}

func (o *Orchestrator) persistConfig(ctx context.Context) {
	o.save(ctx, store.KeyBotConfig, o.Config())
}

func (o *Orchestrator) persistQueue(ctx context.Context) {
	o.save(ctx, store.KeyExecutionQueue, o.queue.Snapshot())
}

func (o *Orchestrator) persistDecisions(ctx context.Context) {
	o.save(ctx, store.KeyDecisions, o.decisions.Snapshot())
}

func (o *Orchestrator) persistLedger(ctx context.Context) {
	o.save(ctx, store.KeyOrderLedger, o.ledger.Snapshot())
}

func (o *Orchestrator) persistQuota(ctx context.Context) {
	if o.tracker == nil {
		return
	}
	o.save(ctx, store.KeyQuotaUsage, o.tracker.Snapshot())
}

func (o *Orchestrator) persistAll(ctx context.Context) {
	o.persistConfig(ctx)
	o.persistQueue(ctx)
	o.persistDecisions(ctx)
	o.persistLedger(ctx)
	o.persistQuota(ctx)
}
