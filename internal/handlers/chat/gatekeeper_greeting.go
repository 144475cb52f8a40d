package handlers

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/bot"
	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/observability"
)

func (g *Gatekeeper) greet(ctx context.Context, chatID int64, chatTitle string, user *api.User, policy *db.Policy) {
	if !policy.GreetsUsers || policy.GreetingMessage == "" {
		return
	}
	entry := g.getLogEntry().WithFields(log.Fields{"method": "greet", "chat_id": chatID, "user_id": user.ID})

	sent, err := g.sendText(ctx, chatID, renderGreeting(policy.GreetingMessage, user, chatTitle), "", nil)
	if err != nil {
		observability.Report(entry, "send_greeting", err)
		return
	}

	if delay := policy.GreetingDeleteDelay(); delay > 0 {
		messageID := sent.MessageID
		g.tasks.After(delay, "delete_greeting", func(ctx context.Context) error {
			if err := g.platform.DeleteMessage(ctx, chatID, messageID); err != nil {
				entry.WithField("error", err.Error()).Debug("cant delete greeting")
			}
			return nil
		})
	}
}

func renderGreeting(template string, user *api.User, chatTitle string) string {
	if !hasAnyPlaceholder(template, placeholderUsername, placeholderTitle, placeholderFullname) {
		return template + "\n\n" + bot.GetUN(user)
	}
	return strings.NewReplacer(
		placeholderUsername, bot.GetUN(user),
		placeholderTitle, chatTitle,
		placeholderFullname, bot.GetFullName(user),
	).Replace(template)
}
