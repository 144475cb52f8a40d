package handlers

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/infra"
	"github.com/will7455/shieldy/internal/observability"
	"github.com/will7455/shieldy/internal/policy/permissions"
)

const (
	kickReasonUnderAttack = "under_attack"
	kickReasonReputation  = "reputation"
	kickReasonTimeout     = "timeout"
)

// banUntil returns the zero time for permanent bans.
func (g *Gatekeeper) banUntil(policy *db.Policy) time.Time {
	if policy.BanUsers {
		return time.Time{}
	}
	return g.now().Add(g.config.SoftBanDuration)
}

// kickMember removes a member on sight. The bookkeeping is cleared whether
// or not the ban call succeeds. The join message is left to the caller.
func (g *Gatekeeper) kickMember(ctx context.Context, policy *db.Policy, userID int64, reason string) {
	entry := g.getLogEntry().WithFields(log.Fields{
		"method":  "kickMember",
		"chat_id": policy.ID,
		"user_id": userID,
		"reason":  reason,
	})

	if err := g.kick(ctx, policy, policy.ID, userID); err != nil {
		observability.Report(entry, "kick", err)
	} else {
		observability.RecordKick(reason)
		entry.Info("kicked member")
	}

	if old, ok := g.registry.TakeCandidate(ctx, policy.ID, userID); ok && old.ChallengeMessageID != 0 {
		g.deleteMessage(ctx, "delete_challenge", policy.ID, old.ChallengeMessageID)
	}
	g.registry.RemoveRestricted(ctx, policy.ID, userID)
}

// kick turns a panicking platform client into an error.
func (g *Gatekeeper) kick(ctx context.Context, policy *db.Policy, chatID, userID int64) error {
	return infra.Recover("kick", func() error {
		return g.platform.KickMember(ctx, chatID, userID, g.banUntil(policy))
	})
}

// kickCandidate bans a taken expired candidate. A failed ban puts the
// candidate back for the next sweep until MaxKickAttempts is reached.
func (g *Gatekeeper) kickCandidate(ctx context.Context, policy *db.Policy, c *db.Candidate) (kicked, retried bool) {
	entry := g.getLogEntry().WithFields(log.Fields{
		"method":  "kickCandidate",
		"chat_id": c.ChatID,
		"user_id": c.UserID,
	})
	key := candidateKey{chatID: c.ChatID, userID: c.UserID}

	if err := g.kick(ctx, policy, c.ChatID, c.UserID); err != nil {
		observability.Report(entry, "kick", err)
		if attempts := g.noteKickFailure(key); attempts < g.config.MaxKickAttempts {
			if g.registry.RestoreCandidate(ctx, c) {
				entry.WithField("attempts", attempts).Debug("kick failed, candidate kept for the next sweep")
				return false, true
			}
			// superseded by a re-join
			g.clearKickFailures(key)
			g.deleteMessage(ctx, "delete_challenge", c.ChatID, c.ChallengeMessageID)
			return false, false
		}
		entry.Warn("giving up on kicking candidate")
	} else {
		observability.RecordKick(kickReasonTimeout)
		entry.Info("kicked expired candidate")
		kicked = true
	}
	g.clearKickFailures(key)

	g.registry.RemoveRestricted(ctx, c.ChatID, c.UserID)
	if policy.DeleteEntryOnKick && c.EntryMessageID != 0 {
		entryChatID := c.EntryChatID
		if entryChatID == 0 {
			entryChatID = c.ChatID
		}
		g.deleteMessage(ctx, "delete_entry_on_kick", entryChatID, c.EntryMessageID)
	}
	if c.ChallengeMessageID != 0 {
		g.deleteMessage(ctx, "delete_challenge", c.ChatID, c.ChallengeMessageID)
	}
	return kicked, false
}

func (g *Gatekeeper) noteKickFailure(key candidateKey) int {
	g.kickFailuresMu.Lock()
	defer g.kickFailuresMu.Unlock()
	g.kickFailures[key]++
	return g.kickFailures[key]
}

func (g *Gatekeeper) clearKickFailures(key candidateKey) {
	g.kickFailuresMu.Lock()
	defer g.kickFailuresMu.Unlock()
	delete(g.kickFailures, key)
}

// restrictMember applies the text only restriction to members that still
// hold default permissions and reports whether it did.
func (g *Gatekeeper) restrictMember(ctx context.Context, chatID, userID int64) bool {
	entry := g.getLogEntry().WithFields(log.Fields{
		"method":  "restrictMember",
		"chat_id": chatID,
		"user_id": userID,
	})

	member, err := g.platform.GetChatMember(ctx, chatID, userID)
	if err != nil {
		observability.Report(entry, "get_chat_member", err)
		return false
	}
	if !permissions.HasDefaultPermissions(&member) {
		entry.WithField("status", member.Status).Debug("member already has custom permissions")
		return false
	}
	until := g.now().Add(g.config.RestrictDuration)
	if err := g.platform.RestrictMember(ctx, chatID, userID, permissions.TextOnly(), until); err != nil {
		observability.Report(entry, "restrict", err)
		return false
	}
	return true
}

// deleteMessage is best effort: failures are reported and swallowed.
func (g *Gatekeeper) deleteMessage(ctx context.Context, op string, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := g.platform.DeleteMessage(ctx, chatID, messageID); err != nil {
		observability.Report(g.getLogEntry().WithFields(log.Fields{
			"chat_id":    chatID,
			"message_id": messageID,
		}), op, err)
	}
}
