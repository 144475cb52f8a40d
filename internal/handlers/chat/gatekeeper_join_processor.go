package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/will7455/shieldy/internal/bot"
	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/i18n"
	"github.com/will7455/shieldy/internal/observability"
)

const (
	placeholderUsername = "$username"
	placeholderFullname = "$fullname"
	placeholderTitle    = "$title"
	placeholderEquation = "$equation"
	placeholderSeconds  = "$seconds"
)

var challengeWarnings = map[db.ChallengeKind]string{
	db.ChallengeNone:   ", please, send any message to this chat, or you will be kicked",
	db.ChallengeButton: ", please, press the button below, or you will be kicked",
	db.ChallengeDigits: ", please, solve the equation and send the answer, or you will be kicked",
	db.ChallengeImage:  ", please, send the text from the image, or you will be kicked",
}

type challenge struct {
	kind     db.ChallengeKind
	question string
	answer   string
	png      []byte
}

func (g *Gatekeeper) handleNewChatMembers(ctx context.Context, msg *api.Message, chat *api.Chat) error {
	entry := g.getLogEntry().WithFields(log.Fields{"method": "handleNewChatMembers", "chat_id": chat.ID})

	memberIDs := make([]int64, 0, len(msg.NewChatMembers))
	for _, member := range msg.NewChatMembers {
		memberIDs = append(memberIDs, member.ID)
	}
	release := g.guard.Acquire(chat.ID, memberIDs...)
	defer release()

	ctx, span := observability.Tracer().Start(ctx, "gatekeeper.admission")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chat.ID), attribute.Int("members", len(memberIDs)))

	policy, err := g.getPolicy(ctx, chat.ID)
	if err != nil {
		return err
	}

	admins, err := g.platform.GetChatAdministrators(ctx, chat.ID)
	if err != nil {
		return errors.WithMessage(err, "cant get chat administrators")
	}
	adminIDs := make(map[int64]struct{}, len(admins))
	for _, admin := range admins {
		if admin.User != nil {
			adminIDs[admin.User.ID] = struct{}{}
		}
	}
	if msg.From != nil {
		if _, ok := adminIDs[msg.From.ID]; ok {
			entry.Debug("members added by an administrator")
			return nil
		}
	}

	selfID := g.platform.Self().ID
	for _, member := range msg.NewChatMembers {
		if member.ID == selfID && g.help != nil {
			if err := g.help.SendHelp(ctx, chat.ID, policy.Language); err != nil {
				observability.Report(entry, "send_help", err)
			}
			break
		}
	}

	var (
		candidates  []*db.Candidate
		restricted  []*db.RestrictedUser
		deleteEntry = policy.DeleteEntryMessages
		now         = g.now()
	)
	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		if member.IsBot {
			continue
		}
		if _, ok := adminIDs[member.ID]; ok {
			continue
		}
		memberEntry := entry.WithFields(log.Fields{"user_id": member.ID, "name": bot.GetUN(member)})

		g.spawnPurge(chat.ID, member.ID)

		if policy.UnderAttack {
			g.kickMember(ctx, policy, member.ID, kickReasonUnderAttack)
			deleteEntry = true
			continue
		}

		if g.reputation != nil {
			banned, err := g.reputation.IsReputationBanned(ctx, member.ID)
			if err != nil {
				observability.Report(memberEntry, "reputation", err)
				continue
			}
			if banned {
				memberEntry.Info("joiner is reputation banned")
				g.kickMember(ctx, policy, member.ID, kickReasonReputation)
				if policy.DeleteEntryOnKick {
					deleteEntry = true
				}
				continue
			}
		}

		ch, err := g.buildChallenge(policy)
		if err != nil {
			observability.Report(memberEntry, "generate_challenge", err)
			continue
		}
		sent, err := g.notifyCandidate(ctx, chat, policy, member, ch)
		if err != nil {
			observability.Report(memberEntry, "send_challenge", err)
		}

		candidates = append(candidates, &db.Candidate{
			ChatID:             chat.ID,
			UserID:             member.ID,
			CreatedAt:          now,
			ChallengeKind:      ch.kind,
			ExpectedAnswer:     ch.answer,
			ChallengeMessageID: sent.MessageID,
			EntryChatID:        chat.ID,
			EntryMessageID:     msg.MessageID,
			Username:           bot.GetUN(member),
		})
		if policy.Restrict && g.restrictMember(ctx, chat.ID, member.ID) {
			restricted = append(restricted, &db.RestrictedUser{ChatID: chat.ID, UserID: member.ID, RestrictedAt: now})
		}
		observability.RecordAdmission(string(ch.kind))
		memberEntry.WithField("kind", ch.kind).Debug("candidate admitted")
	}

	for _, old := range g.registry.AddCandidates(ctx, candidates...) {
		g.deleteMessage(ctx, "delete_superseded_challenge", old.ChatID, old.ChallengeMessageID)
	}
	g.registry.AddRestricted(ctx, restricted...)

	if deleteEntry {
		g.deleteMessage(ctx, "delete_entry_message", chat.ID, msg.MessageID)
	}
	return nil
}

func (g *Gatekeeper) spawnPurge(chatID, userID int64) {
	if g.purger == nil {
		return
	}
	g.tasks.Go("purge_messages", func(ctx context.Context) error {
		return g.purger.PurgeStoredMessages(ctx, chatID, userID)
	})
}

func (g *Gatekeeper) buildChallenge(policy *db.Policy) (challenge, error) {
	ch := challenge{kind: policy.CaptchaType}
	switch policy.CaptchaType {
	case db.ChallengeDigits:
		ch.question, ch.answer = g.challenges.GenerateDigitsChallenge()
	case db.ChallengeImage:
		png, text, err := g.challenges.GenerateImageChallenge()
		if err != nil {
			return ch, errors.WithMessage(err, "cant generate image challenge")
		}
		ch.png, ch.answer = png, text
	case db.ChallengeButton:
	default:
		ch.kind = db.ChallengeNone
	}
	return ch, nil
}

func (g *Gatekeeper) notifyCandidate(ctx context.Context, chat *api.Chat, policy *db.Policy, member *api.User, ch challenge) (api.Message, error) {
	lang := policy.Language
	var markup any
	if ch.kind == db.ChallengeButton {
		markup = api.NewInlineKeyboardMarkup(api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData(i18n.Get("I am not a bot", lang), fmt.Sprintf("%d~%d", chat.ID, member.ID)),
		))
	}

	if text, ok := customCaptchaText(policy, ch); ok {
		if hasAnyPlaceholder(text, placeholderUsername, placeholderFullname, placeholderTitle, placeholderEquation, placeholderSeconds) {
			text = strings.NewReplacer(
				placeholderUsername, bot.GetUN(member),
				placeholderFullname, bot.GetFullName(member),
				placeholderTitle, chat.Title,
				placeholderEquation, ch.question,
				placeholderSeconds, strconv.Itoa(policy.TimeGiven),
			).Replace(text)
			if ch.png != nil {
				return g.sendPhoto(ctx, chat.ID, ch.png, text, api.ModeMarkdown)
			}
			return g.sendText(ctx, chat.ID, text, "", markup)
		}
		text = bot.GetUN(member) + "\n\n" + text
		if ch.png != nil {
			return g.sendPhoto(ctx, chat.ID, ch.png, text, "")
		}
		return g.sendText(ctx, chat.ID, text, "", markup)
	}

	text := fmt.Sprintf("[%s](tg://user?id=%d)%s (%d %s)",
		api.EscapeText(api.ModeMarkdown, bot.GetUN(member)),
		member.ID,
		i18n.Get(challengeWarnings[ch.kind], lang),
		policy.TimeGiven,
		i18n.Get("seconds", lang),
	)
	if ch.png != nil {
		return g.sendPhoto(ctx, chat.ID, ch.png, text, api.ModeMarkdown)
	}
	if ch.kind == db.ChallengeDigits {
		text = "(" + ch.question + ") " + text
	}
	return g.sendText(ctx, chat.ID, text, api.ModeMarkdown, markup)
}

// customCaptchaText returns the chat template when it can carry the challenge.
func customCaptchaText(policy *db.Policy, ch challenge) (string, bool) {
	if !policy.CustomCaptchaMessage || policy.CaptchaMessage == "" {
		return "", false
	}
	if ch.kind == db.ChallengeDigits && !strings.Contains(policy.CaptchaMessage, placeholderEquation) {
		return "", false
	}
	return policy.CaptchaMessage, true
}

func hasAnyPlaceholder(text string, placeholders ...string) bool {
	for _, p := range placeholders {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func (g *Gatekeeper) sendText(ctx context.Context, chatID int64, text, parseMode string, markup any) (api.Message, error) {
	msg := api.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.LinkPreviewOptions.IsDisabled = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	return g.platform.SendMessage(ctx, msg)
}

func (g *Gatekeeper) sendPhoto(ctx context.Context, chatID int64, png []byte, caption, parseMode string) (api.Message, error) {
	photo := api.NewPhoto(chatID, api.FileBytes{Name: "captcha.png", Bytes: png})
	photo.Caption = caption
	photo.ParseMode = parseMode
	return g.platform.SendPhoto(ctx, photo)
}
