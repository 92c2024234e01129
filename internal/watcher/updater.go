package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/project"
)

// Trigger starts a background generation. *generation.Manager implements it.
type Trigger interface {
	TriggerGeneration(ctx context.Context, ident project.Identity, opts generation.Options) generation.TriggerResult
}

// defaultRetry is how long a batch waits when generation is already running.
const defaultRetry = 5 * time.Second

// Updater turns change batches into incremental generations. While a run is
// in progress further batches collapse into one pending update that is
// retried until accepted.
type Updater struct {
	trigger Trigger
	ident   project.Identity
	logger  *slog.Logger
	retry   time.Duration
}

// NewUpdater creates an Updater for ident. A nil logger uses slog.Default.
func NewUpdater(trigger Trigger, ident project.Identity, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{trigger: trigger, ident: ident, logger: logger, retry: defaultRetry}
}

// Run consumes batches until the channel closes, ctx is cancelled, or the
// generation manager shuts down.
func (u *Updater) Run(ctx context.Context, batches <-chan []FileEvent) {
	pending := false
	var retry <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			u.logger.Debug("watch_batch",
				slog.String("project_id", u.ident.ID),
				slog.Int("events", len(batch)))
			pending = true
		case <-retry:
			retry = nil
		}

		if !pending || retry != nil {
			continue
		}
		res := u.trigger.TriggerGeneration(ctx, u.ident, generation.Options{Incremental: true})
		switch {
		case res.Started:
			pending = false
			u.logger.Info("watch_update_started",
				slog.String("project_id", u.ident.ID),
				slog.String("session_id", res.SessionID))
		case res.Reason == generation.ReasonShuttingDown:
			return
		default:
			retry = time.After(u.retry)
		}
	}
}
