package upstream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"consolebot-go/internal/config"
	"consolebot-go/internal/events"
)

// StatusSource is a group whose servers the poller checks
type StatusSource interface {
	GroupID() int
	ServerIDs() []int
}

// StatusPoller periodically fetches the status of every tracked server and
// publishes it as a server status notification, standing in for a remote
// push transport
type StatusPoller struct {
	metadata  Metadata
	publisher Publisher
	interval  time.Duration
	workers   int
	logger    *zap.Logger

	mu      sync.Mutex
	sources []StatusSource

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewStatusPoller creates a poller. It does nothing until Start.
func NewStatusPoller(metadata Metadata, publisher Publisher, interval time.Duration, workers int, logger *zap.Logger) *StatusPoller {
	if interval <= 0 {
		interval = config.DefaultStatusPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StatusPoller{
		metadata:  metadata,
		publisher: publisher,
		interval:  interval,
		workers:   workers,
		logger:    logger.Named("poller"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Track adds a group to poll
func (p *StatusPoller) Track(src StatusSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, src)
}

// Start launches the polling loop. Calling it again has no effect.
func (p *StatusPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.loop()
	p.logger.Info("Status poller started", zap.Duration("interval", p.interval))
}

func (p *StatusPoller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PollOnce(p.ctx)
		case <-p.ctx.Done():
			return
		}
	}
}

// PollOnce fetches every tracked server's status once and publishes the
// results. Failed fetches are logged and skipped.
func (p *StatusPoller) PollOnce(ctx context.Context) int {
	p.mu.Lock()
	sources := append([]StatusSource(nil), p.sources...)
	p.mu.Unlock()

	published := 0
	for _, src := range sources {
		groupID := src.GroupID()
		logger := p.logger.With(zap.Int("group_id", groupID))

		statuses, err := fetchStatuses(ctx, p.metadata, src.ServerIDs(), p.workers, logger)
		if err != nil {
			logger.Warn("Some status fetches failed", zap.Error(err))
		}
		for _, info := range statuses {
			p.publisher.Publish(events.Event{
				Kind:    events.KindServerStatus,
				Key:     groupID,
				Content: info,
			})
			published++
		}
	}
	return published
}

// Stop ends the polling loop and waits for an in-flight poll to finish
func (p *StatusPoller) Stop(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
