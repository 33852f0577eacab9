package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExhausted means no registered provider has allowance left.
	ErrQuotaExhausted = errors.New("all provider quotas exhausted")
	// ErrProviderRequestFailed marks upstream, transport and validation failures.
	ErrProviderRequestFailed = errors.New("provider request failed")
	// ErrProviderQuota is returned by clients when the upstream itself reports
	// that the account quota is spent.
	ErrProviderQuota = errors.New("provider reported quota exhausted")
)

// AllProvidersFailedError is returned once every eligible provider has used
// its attempts.
type AllProvidersFailedError struct {
	Tried     []string
	LastError error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed (tried %v): %v", e.Tried, e.LastError)
}

func (e *AllProvidersFailedError) Unwrap() []error {
	return []error{ErrProviderRequestFailed, e.LastError}
}

func isQuotaError(err error) bool {
	return errors.Is(err, ErrProviderQuota)
}
