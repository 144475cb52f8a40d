package telegram

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/will7455/shieldy/internal/bot"
)

// Operations is the platform adapter used by the gatekeeper.
type Operations struct {
	bot *api.BotAPI
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

func (o *Operations) Self() api.User {
	return o.bot.Self
}

func (o *Operations) SendMessage(ctx context.Context, msg api.MessageConfig) (api.Message, error) {
	if err := ctx.Err(); err != nil {
		return api.Message{}, err
	}
	sent, err := o.bot.Send(msg)
	if err != nil {
		return api.Message{}, errors.WithMessage(err, "cant send message")
	}
	return sent, nil
}

func (o *Operations) SendPhoto(ctx context.Context, photo api.PhotoConfig) (api.Message, error) {
	if err := ctx.Err(); err != nil {
		return api.Message{}, err
	}
	sent, err := o.bot.Send(photo)
	if err != nil {
		return api.Message{}, errors.WithMessage(err, "cant send photo")
	}
	return sent, nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return bot.DeleteChatMessage(ctx, o.bot, chatID, messageID)
}

// KickMember bans the user until the given time, the zero time bans forever.
func (o *Operations) KickMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	var untilUnix int64
	if !until.IsZero() {
		untilUnix = until.Unix()
	}
	return bot.BanUserFromChat(ctx, o.bot, userID, chatID, untilUnix)
}

func (o *Operations) RestrictMember(ctx context.Context, chatID, userID int64, permissions *api.ChatPermissions, until time.Time) error {
	return bot.RestrictChatting(ctx, o.bot, userID, chatID, permissions, until.Unix())
}

func (o *Operations) GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error) {
	if err := ctx.Err(); err != nil {
		return api.ChatMember{}, err
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return api.ChatMember{}, errors.WithMessage(err, "cant get chat member")
	}
	return member, nil
}

func (o *Operations) GetChatAdministrators(ctx context.Context, chatID int64) ([]api.ChatMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	admins, err := o.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "cant get chat administrators")
	}
	return admins, nil
}

func (o *Operations) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.NewCallback(callbackID, text)); err != nil {
		return errors.WithMessage(err, "cant answer callback")
	}
	return nil
}
