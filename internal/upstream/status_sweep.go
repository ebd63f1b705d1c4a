package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"consolebot-go/internal/config"
	"consolebot-go/internal/types"
)

// statusResult is the outcome of one status fetch
type statusResult struct {
	serverID int
	info     *types.ServerInfo
	err      error
	elapsed  time.Duration
}

// fetchStatuses fetches the status of every server with a bounded pool of
// workers. Successful results are returned even when some fetches fail; the
// failures are joined into the error.
func fetchStatuses(ctx context.Context, metadata Metadata, serverIDs []int, workers int, logger *zap.Logger) (map[int]*types.ServerInfo, error) {
	statuses := make(map[int]*types.ServerInfo, len(serverIDs))
	if len(serverIDs) == 0 {
		return statuses, nil
	}
	if workers <= 0 {
		workers = config.DefaultStatusSweepWorkers
	}
	if workers > len(serverIDs) {
		workers = len(serverIDs)
	}

	jobs := make(chan int, len(serverIDs))
	results := make(chan statusResult, len(serverIDs))

	for _, id := range serverIDs {
		jobs <- id
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			statusWorker(ctx, workerID, metadata, jobs, results, logger)
		}(i)
	}

	wg.Wait()
	close(results)

	var errs []error
	for r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("server %d: %w", r.serverID, r.err))
			continue
		}
		statuses[r.serverID] = r.info
	}
	return statuses, errors.Join(errs...)
}

func statusWorker(ctx context.Context, workerID int, metadata Metadata, jobs <-chan int, results chan<- statusResult, logger *zap.Logger) {
	for id := range jobs {
		start := time.Now()
		info, err := metadata.GetServerInfo(ctx, id)
		if err == nil && info == nil {
			err = errors.New("empty server record")
		}
		r := statusResult{serverID: id, info: info, err: err, elapsed: time.Since(start)}

		if err != nil {
			logger.Warn("Status fetch failed",
				zap.Int("worker_id", workerID),
				zap.Int("server_id", id),
				zap.Duration("elapsed", r.elapsed),
				zap.Error(err))
		} else {
			logger.Debug("Status fetched",
				zap.Int("worker_id", workerID),
				zap.Int("server_id", id),
				zap.Duration("elapsed", r.elapsed),
				zap.Time("online_ping", info.OnlinePing))
		}
		results <- r
	}
}
