package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Do выполняет fn с экспоненциальным бэкоффом не более attempts раз.
// Контекст прерывает ожидание между попытками.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.RandomizationFactor = 0.2
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
	return backoff.Retry(fn, policy)
}

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
