package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/will7455/shieldy/internal/db"
)

type ServiceBot interface {
	GetBot() *api.BotAPI
}

type ServiceDB interface {
	GetDB() db.Client
}

// Service is shared by all handlers: platform access, storage and chat policy.
type Service interface {
	ServiceBot
	ServiceDB
	GetPolicy(ctx context.Context, chatID int64) (*db.Policy, error)
	SetPolicy(ctx context.Context, policy *db.Policy) error
	GetLanguage(ctx context.Context, chatID int64) string
}

// Handler is one link of the update pipeline. Returning proceed == false
// stops propagation to the handlers registered after it.
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}
