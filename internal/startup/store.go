package startup

import (
	"context"
	"os"
	"time"

	"github.com/roomchat/internal/logger"
	redisstore "github.com/roomchat/internal/storage/redis"
)

// ConnectStoreWithRetry connects to the realtime store with retries.
// logPrefix is prepended to log lines (e.g. "chat: ").
func ConnectStoreWithRetry(storeURL string, maxWait time.Duration, logPrefix string) *redisstore.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisstore.New(ctx, storeURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sstore (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sstore connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
