package app

import (
	"fmt"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/engine"
	"autotrader/internal/logger"
	"autotrader/internal/metrics"
	"autotrader/internal/provider"
	"autotrader/internal/quota"
)

// advisorOptions is satisfied by recommenders whose routing can change at
// runtime.
type advisorOptions interface {
	SetOptions(provider.Options)
}

func routingOptions(cfg config.ProvidersConfig) provider.Options {
	return provider.Options{
		PreferredProvider: cfg.Preferred,
		EnableFallback:    cfg.EnableFallback,
		RetryAttempts:     cfg.RetryAttempts,
	}
}

func buildTracker(cfg config.ProvidersConfig, now func() time.Time) *quota.Tracker {
	entries := cfg.EnabledEntries()
	order := make([]string, 0, len(entries))
	limits := make(map[string]int, len(entries))
	for _, e := range entries {
		order = append(order, e.Name)
		limits[e.Name] = e.DailyLimit
	}
	return quota.NewTracker(order, limits,
		quota.WithClock(now),
		quota.WithResetHour(cfg.ResetHourUTC),
		quota.WithChangeHook(func(info quota.Info) {
			metrics.QuotaUsage(info.Provider, info.Usage)
		}),
	)
}

func buildAdvisor(cfg config.ProvidersConfig, tracker *quota.Tracker) (engine.Recommender, error) {
	entries := cfg.EnabledEntries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("no enabled providers")
	}
	clients := make([]provider.Client, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case "", "openai":
		default:
			return nil, fmt.Errorf("provider %s has unsupported kind %q", e.Name, e.Kind)
		}
		clients = append(clients, provider.NewOpenAIClient(provider.OpenAIClientConfig{
			Name:    e.Name,
			BaseURL: e.APIURL,
			APIKey:  e.APIKey,
			Model:   e.Model,
			Timeout: cfg.RequestTimeout,
			Headers: e.Headers,
		}))
	}
	dispatcher := provider.NewDispatcher(tracker,
		provider.WithAttemptTimeout(cfg.RequestTimeout),
		provider.WithBackoff(cfg.BackoffBase, cfg.BackoffCap),
	)
	dispatcher.OnProviderChange(func(from, to string, cause error) {
		logger.Warnf("provider switched %s -> %s: %v", from, to, cause)
	})
	return provider.NewRecommender(dispatcher, clients, routingOptions(cfg)), nil
}
