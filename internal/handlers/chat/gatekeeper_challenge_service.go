package handlers

import (
	"context"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/bot"
	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/i18n"
	"github.com/will7455/shieldy/internal/observability"
)

const (
	maxAnswerDigits = 2

	gateMessage = "message"
	gateButton  = "button"
	gateAdmin   = "admin"
)

// handleMessage is the message gate. It returns proceed == false only while
// the sender's admission is still in progress.
func (g *Gatekeeper) handleMessage(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (bool, error) {
	entry := g.getLogEntry().WithFields(log.Fields{
		"method":  "handleMessage",
		"chat_id": chat.ID,
		"user_id": user.ID,
	})

	if g.guard.Held(chat.ID, user.ID) {
		entry.Debug("admission in progress, ignoring message")
		return false, nil
	}
	candidate, ok := g.registry.Candidate(chat.ID, user.ID)
	if !ok || msg.Text == "" {
		return true, nil
	}

	policy, err := g.getPolicy(ctx, chat.ID)
	if err != nil {
		return true, err
	}

	if policy.CaptchaType == db.ChallengeButton {
		if policy.Strict {
			g.deleteMessage(ctx, "delete_stray_message", chat.ID, msg.MessageID)
		}
		return true, nil
	}

	if !isCorrectAnswer(&candidate, msg.Text) {
		entry.WithField("kind", candidate.ChallengeKind).Debug("incorrect answer")
		if policy.Strict {
			g.deleteMessage(ctx, "delete_wrong_answer", chat.ID, msg.MessageID)
		}
		return true, nil
	}
	if candidate.ChallengeKind == db.ChallengeDigits || candidate.ChallengeKind == db.ChallengeImage {
		g.deleteMessage(ctx, "delete_correct_answer", chat.ID, msg.MessageID)
	}

	g.completeVerification(ctx, chat.ID, chat.Title, user, policy, gateMessage)
	return true, nil
}

// handleButton is the button gate for "<chatId>~<userId>" callbacks.
func (g *Gatekeeper) handleButton(ctx context.Context, cq *api.CallbackQuery, presser *api.User) error {
	entry := g.getLogEntry().WithFields(log.Fields{
		"method": "handleButton",
		"data":   cq.Data,
		"user":   bot.GetUN(presser),
	})

	chatID, userID, ok := parseCallbackData(cq.Data)
	if !ok {
		entry.Debug("malformed callback data")
		return nil
	}

	if presser.ID != userID {
		lang := ""
		if policy, err := g.getPolicy(ctx, chatID); err == nil {
			lang = policy.Language
		}
		if err := g.platform.AnswerCallback(ctx, cq.ID, i18n.Get("Only the candidate may respond", lang)); err != nil {
			observability.Report(entry, "answer_callback", err)
		}
		return nil
	}

	if !g.buttonPressAllowed(cq, chatID, userID) {
		if err := g.platform.AnswerCallback(ctx, cq.ID, ""); err != nil {
			observability.Report(entry, "answer_callback", err)
		}
		return nil
	}

	policy, err := g.getPolicy(ctx, chatID)
	if err != nil {
		return err
	}
	if err := g.platform.AnswerCallback(ctx, cq.ID, ""); err != nil {
		observability.Report(entry, "answer_callback", err)
	}

	title := ""
	if cq.Message != nil {
		title = cq.Message.Chat.Title
	}
	g.completeVerification(ctx, chatID, title, presser, policy, gateButton)
	return nil
}

// buttonPressAllowed accepts a press only for a pending BUTTON candidate of
// the chat the button was posted in, and not while the user is being admitted.
func (g *Gatekeeper) buttonPressAllowed(cq *api.CallbackQuery, chatID, userID int64) bool {
	entry := g.getLogEntry().WithFields(log.Fields{"method": "buttonPressAllowed", "chat_id": chatID, "user_id": userID})

	if g.guard.Held(chatID, userID) {
		entry.Debug("admission in progress, ignoring button")
		return false
	}
	if cq.Message != nil && cq.Message.Chat.ID != chatID {
		entry.WithField("message_chat_id", cq.Message.Chat.ID).Debug("button posted in another chat")
		return false
	}
	c, ok := g.registry.Candidate(chatID, userID)
	if !ok {
		entry.Debug("no pending candidate for the button")
		return false
	}
	if c.ChallengeKind != db.ChallengeButton {
		entry.WithField("kind", c.ChallengeKind).Debug("candidate has no button challenge")
		return false
	}
	return true
}

// Approve is the administrator override: the candidate passes as if it had
// answered. It reports whether a pending candidate existed.
func (g *Gatekeeper) Approve(ctx context.Context, chat *api.Chat, user *api.User) (bool, error) {
	policy, err := g.getPolicy(ctx, chat.ID)
	if err != nil {
		return false, err
	}
	return g.completeVerification(ctx, chat.ID, chat.Title, user, policy, gateAdmin), nil
}

// completeVerification takes the candidate, so concurrent gates succeed once.
func (g *Gatekeeper) completeVerification(ctx context.Context, chatID int64, chatTitle string, user *api.User, policy *db.Policy, gate string) bool {
	c, ok := g.registry.TakeCandidate(ctx, chatID, user.ID)
	if !ok {
		g.getLogEntry().WithFields(log.Fields{"chat_id": chatID, "user_id": user.ID}).Debug("candidate already removed")
		return false
	}
	g.clearKickFailures(candidateKey{chatID: chatID, userID: user.ID})
	observability.RecordVerification(gate)

	g.deleteMessage(ctx, "delete_challenge", chatID, c.ChallengeMessageID)
	g.greet(ctx, chatID, chatTitle, user, policy)
	return true
}

func isCorrectAnswer(c *db.Candidate, text string) bool {
	switch c.ChallengeKind {
	case db.ChallengeNone:
		return true
	case db.ChallengeDigits:
		return judgeDigits(text, c.ExpectedAnswer)
	case db.ChallengeImage:
		return judgeImage(text, c.ExpectedAnswer)
	default:
		return false
	}
}

// judgeDigits requires the answer and at most two digits in total, so replies
// padded with many numbers never pass.
func judgeDigits(text, answer string) bool {
	if answer == "" || !strings.Contains(text, answer) {
		return false
	}
	digits := 0
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits <= maxAnswerDigits
}

func judgeImage(text, expected string) bool {
	if expected == "" {
		return false
	}
	return strings.Contains(text, expected)
}

func parseCallbackData(data string) (chatID, userID int64, ok bool) {
	m := callbackDataPattern.FindStringSubmatch(data)
	if m == nil {
		return 0, 0, false
	}
	chatID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	userID, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return chatID, userID, true
}
