package upload

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/upload/source"
)

// fetchWithRetry downloads remotePath to localPath, retrying transient
// failures up to attempts with exponential backoff. When partial data exists
// after a failed try, the adapter's resume path continues from the local
// size instead of refetching.
func fetchWithRetry(ctx context.Context, adapter source.Adapter, spec source.Spec, remotePath, localPath string, attempts int, progress source.ProgressFunc, onRetry func()) error {
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
			backoff.WithMaxInterval(10*time.Second),
		),
		uint64(attempts-1),
	), ctx)

	attempt := 0
	try := func() error {
		attempt++
		var err error
		if offset := localSize(localPath); offset > 0 {
			err = adapter.Resume(ctx, spec, remotePath, localPath, offset, progress)
			if errors.Is(err, source.ErrAlreadyComplete) {
				return nil
			}
			if errors.Is(err, source.ErrResumeUnsupported) {
				err = adapter.Fetch(ctx, spec, remotePath, localPath, progress)
			}
		} else {
			err = adapter.Fetch(ctx, spec, remotePath, localPath, progress)
		}
		if err == nil {
			return nil
		}
		if !source.IsTransient(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("transient fetch failure, will retry",
			logger.KeyFile, remotePath,
			logger.KeyAttempt, attempt,
			logger.KeyError, err.Error())
		if onRetry != nil {
			onRetry()
		}
		return err
	}
	return backoff.Retry(try, policy)
}

func localSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
