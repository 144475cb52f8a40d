package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/will7455/shieldy/internal/infra"
	"github.com/will7455/shieldy/internal/observability"
)

type SweepStats struct {
	RunID             string
	Skipped           bool
	Chats             int
	Kicked            int
	Retried           int
	RestrictedExpired int
}

type sweepCounter struct {
	mu    sync.Mutex
	stats SweepStats
}

func (c *sweepCounter) add(kicked, retried, restricted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Kicked += kicked
	c.stats.Retried += retried
	c.stats.RestrictedExpired += restricted
}

// Sweep kicks expired candidates and drops stale restriction records. A
// sweep that starts while another one runs is skipped.
func (g *Gatekeeper) Sweep(ctx context.Context) SweepStats {
	if !g.sweeping.CompareAndSwap(false, true) {
		g.getLogEntry().WithField("method", "Sweep").Debug("previous sweep still running")
		return SweepStats{Skipped: true}
	}
	defer g.sweeping.Store(false)
	defer observability.StartSweep()()

	counter := &sweepCounter{stats: SweepStats{RunID: uuid.New()}}
	entry := g.getLogEntry().WithFields(log.Fields{"method": "Sweep", "run_id": counter.stats.RunID})

	ctx, span := observability.Tracer().Start(ctx, "gatekeeper.sweep")
	defer span.End()

	now := g.now()
	chats := mergeChatIDs(g.registry.ChatsWithCandidates(), g.registry.ChatsWithRestricted())
	counter.stats.Chats = len(chats)

	var eg errgroup.Group
	eg.SetLimit(sweepConcurrency)
	for _, chatID := range chats {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			err := infra.Recover("sweep_chat", func() error {
				kicked, retried, restricted := g.sweepChat(ctx, chatID, now)
				counter.add(kicked, retried, restricted)
				return nil
			})
			observability.Report(entry.WithField("chat_id", chatID), "sweep_chat", err)
			return nil
		})
	}
	_ = eg.Wait()

	observability.SetPendingCandidates(g.registry.PendingCount())
	stats := counter.stats
	span.SetAttributes(
		attribute.Int("chats", stats.Chats),
		attribute.Int("kicked", stats.Kicked),
		attribute.Int("retried", stats.Retried),
	)
	if stats.Kicked > 0 || stats.Retried > 0 || stats.RestrictedExpired > 0 {
		entry.WithFields(log.Fields{
			"kicked":     stats.Kicked,
			"retried":    stats.Retried,
			"restricted": stats.RestrictedExpired,
		}).Info("sweep finished")
	}
	return stats
}

func (g *Gatekeeper) sweepChat(ctx context.Context, chatID int64, now time.Time) (kicked, retried, restricted int) {
	entry := g.getLogEntry().WithFields(log.Fields{"method": "sweepChat", "chat_id": chatID})

	restricted = len(g.registry.TakeExpiredRestricted(ctx, chatID, now, g.config.RestrictDuration))

	policy, err := g.getPolicy(ctx, chatID)
	if err != nil {
		observability.Report(entry, "sweep_policy", err)
		return 0, 0, restricted
	}
	for _, c := range g.registry.TakeExpired(ctx, chatID, now, policy.ChallengeWindow()) {
		ok, retry := g.kickCandidate(ctx, policy, c)
		if ok {
			kicked++
		}
		if retry {
			retried++
		}
	}
	return kicked, retried, restricted
}

func mergeChatIDs(sets ...[]int64) []int64 {
	seen := make(map[int64]struct{})
	var res []int64
	for _, set := range sets {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			res = append(res, id)
		}
	}
	return res
}
