package bot

import (
	"context"
	"fmt"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/db"
)

type service struct {
	bot             *api.BotAPI
	db              db.Client
	defaultLanguage string
	logger          *log.Entry
}

func NewService(bot *api.BotAPI, db db.Client, defaultLanguage string) *service {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &service{
		bot:             bot,
		db:              db,
		defaultLanguage: defaultLanguage,
		logger:          log.WithField("object", "Service"),
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

// GetPolicy never returns a nil policy without an error: unknown chats get
// the defaults.
func (s *service) GetPolicy(ctx context.Context, chatID int64) (*db.Policy, error) {
	policy, err := s.db.GetPolicy(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	if policy == nil {
		policy = db.DefaultPolicy(chatID)
		policy.Language = s.defaultLanguage
	}
	return policy, nil
}

func (s *service) SetPolicy(ctx context.Context, policy *db.Policy) error {
	if policy == nil {
		return fmt.Errorf("set policy: nil policy")
	}
	if err := s.db.SetPolicy(ctx, policy); err != nil {
		return fmt.Errorf("set policy: %w", err)
	}
	return nil
}

func (s *service) GetLanguage(ctx context.Context, chatID int64) string {
	policy, err := s.GetPolicy(ctx, chatID)
	if err != nil {
		s.logger.WithFields(log.Fields{"method": "GetLanguage", "error": err.Error()}).Warn("cant get chat language")
		return s.defaultLanguage
	}
	if policy.Language == "" {
		return s.defaultLanguage
	}
	return policy.Language
}
