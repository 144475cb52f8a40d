package handlers

import (
	"context"
	"strings"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/i18n"
	"github.com/will7455/shieldy/internal/policy/permissions"
)

type Messenger interface {
	SendMessage(ctx context.Context, msg api.MessageConfig) (api.Message, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error)
}

type PolicyStore interface {
	GetPolicy(ctx context.Context, chatID int64) (*db.Policy, error)
	SetPolicy(ctx context.Context, policy *db.Policy) error
}

// Approver lets an administrator pass a pending candidate.
type Approver interface {
	Approve(ctx context.Context, chat *api.Chat, user *api.User) (bool, error)
}

type Admin struct {
	messenger Messenger
	policies  PolicyStore
	languages []string

	mu       sync.RWMutex
	approver Approver
}

func NewAdmin(messenger Messenger, policies PolicyStore) *Admin {
	entry := log.WithField("object", "Admin").WithField("method", "NewAdmin")

	a := &Admin{
		messenger: messenger,
		policies:  policies,
		languages: i18n.GetLanguagesList(),
	}
	entry.Debug("created new admin handler")
	return a
}

// SetApprover binds the /approve command, which stays disabled until then.
func (a *Admin) SetApprover(approver Approver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approver = approver
}

func (a *Admin) getApprover() Approver {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.approver
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	entry := a.getLogEntry().WithField("method", "Handle")

	if u == nil || u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	if user.IsBot || !u.Message.IsCommand() {
		return true, nil
	}

	cmd, ok := commands[strings.ToLower(u.Message.Command())]
	if !ok {
		entry.Debugf("unknown command: %s", u.Message.Command())
		return true, nil
	}

	if !chat.IsPrivate() {
		isAdmin, err := a.isAdmin(ctx, chat.ID, user.ID)
		if err != nil {
			return true, err
		}
		if !isAdmin {
			entry.WithField("user_id", user.ID).Debug("user is not admin, ignoring command")
			return true, nil
		}
	} else if cmd.groupOnly {
		return false, nil
	}

	policy, err := a.policies.GetPolicy(ctx, chat.ID)
	if err != nil {
		return true, errors.WithMessage(err, "cant get chat policy")
	}
	if policy == nil {
		policy = db.DefaultPolicy(chat.ID)
	}

	entry.WithField("command", u.Message.Command()).Debug("processing command")
	reply, changed, err := cmd.run(ctx, a, u.Message, policy)
	if err != nil {
		return false, err
	}
	if changed {
		if err := a.policies.SetPolicy(ctx, policy); err != nil {
			return false, errors.WithMessage(err, "cant update chat policy")
		}
	}
	if reply != "" {
		if err := a.send(ctx, chat.ID, reply); err != nil {
			entry.WithField("error", err.Error()).Error("cant send command reply")
		}
	}
	return false, nil
}

// SendHelp posts the introduction and the command overview.
func (a *Admin) SendHelp(ctx context.Context, chatID int64, language string) error {
	msg := api.NewMessage(chatID, i18n.Get(helpText, language))
	msg.ParseMode = api.ModeMarkdown
	msg.LinkPreviewOptions.IsDisabled = true
	if _, err := a.messenger.SendMessage(ctx, msg); err != nil {
		return errors.WithMessage(err, "cant send help")
	}
	return nil
}

func (a *Admin) send(ctx context.Context, chatID int64, text string) error {
	msg := api.NewMessage(chatID, text)
	msg.DisableNotification = true
	_, err := a.messenger.SendMessage(ctx, msg)
	return err
}

func (a *Admin) isAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := a.messenger.GetChatMember(ctx, chatID, userID)
	if err != nil {
		return false, errors.WithMessage(err, "cant get chat member")
	}
	return permissions.IsAdmin(&member), nil
}

func (a *Admin) getLogEntry() *log.Entry {
	return log.WithField("handler", "admin")
}
