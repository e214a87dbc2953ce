package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/pkg/safego"
)

// SweepRetention deletes conversations idle longer than the configured
// retention and drops them from their agent's live set. A non-positive
// retention disables the sweep.
func (app *App) SweepRetention(ctx context.Context, now time.Time) (int, error) {
	maxAge := app.config.Dispatch.RetentionMaxAge
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-maxAge)

	refs, err := app.store.ListConversations(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ref := range refs {
		if !ref.LastActivityAt.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := app.store.DeleteConversation(ctx, ref.AgentName, ref.ID); err != nil {
			return removed, err
		}
		if app.registry != nil {
			if agent, ok := app.registry.Agent(ref.AgentName); ok {
				agent.Forget(ref.ID)
			}
		}
		removed++
	}

	if app.metrics != nil {
		app.metrics.RetentionRemoved.Add(float64(removed))
	}
	return removed, nil
}

func (app *App) updateLiveGauge() {
	live := 0
	for _, agent := range app.registry.Agents() {
		live += agent.LiveConversations()
	}
	app.metrics.ConversationsLive.Set(float64(live))
}

// startRetentionSweeper sweeps once at startup and then every
// dispatch.cleanup_interval until ctx ends.
func (app *App) startRetentionSweeper(ctx context.Context) {
	interval := app.config.Dispatch.CleanupInterval

	sweep := func() {
		n, err := app.SweepRetention(ctx, time.Now())
		if err != nil {
			app.logger.Warn("Retention sweep failed", zap.Error(err))
		} else if n > 0 {
			app.logger.Info("Retention sweep removed conversations", zap.Int("count", n))
		}
		app.updateLiveGauge()
	}

	app.wg.Add(1)
	safego.Go(app.logger, "retention-sweep", func() {
		defer app.wg.Done()
		sweep()
		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	})
}
