package purge

import (
	"context"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/observability"
)

const (
	defaultTTL     = 48 * time.Hour
	pruneInterval  = time.Hour
	deleteDeadline = 30 * time.Second
)

type Store interface {
	LogMessage(ctx context.Context, msg *db.StoredMessage) error
	TakeUserMessages(ctx context.Context, chatID, userID int64) ([]*db.StoredMessage, error)
	PruneMessages(ctx context.Context, before time.Time) (int64, error)
}

type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Purger keeps the ids of recent user messages so that a user who leaves
// and joins again can have their earlier messages removed.
type Purger struct {
	store   Store
	deleter Deleter
	ttl     time.Duration
	now     func() time.Time
	logger  *log.Entry

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func New(store Store, deleter Deleter, ttl time.Duration) *Purger {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Purger{
		store:   store,
		deleter: deleter,
		ttl:     ttl,
		now:     time.Now,
		logger:  log.WithField("object", "Purger"),
	}
}

// Handle records every message with a sender. It never stops the chain, a
// failed write is only reported.
func (p *Purger) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.Message == nil || chat == nil || user == nil || user.IsBot {
		return true, nil
	}
	if chat.IsPrivate() || len(u.Message.NewChatMembers) > 0 || u.Message.LeftChatMember != nil {
		return true, nil
	}
	err := p.store.LogMessage(ctx, &db.StoredMessage{
		ChatID:    chat.ID,
		UserID:    user.ID,
		MessageID: u.Message.MessageID,
		CreatedAt: p.now(),
	})
	if err != nil {
		observability.Report(p.logger.WithFields(log.Fields{"method": "Handle", "chat_id": chat.ID}), "log_message", err)
	}
	return true, nil
}

// PurgeStoredMessages deletes the logged messages of the user in the chat.
// Individual deletions are best effort.
func (p *Purger) PurgeStoredMessages(ctx context.Context, chatID, userID int64) error {
	entry := p.logger.WithFields(log.Fields{
		"method":  "PurgeStoredMessages",
		"chat_id": chatID,
		"user_id": userID,
	})

	messages, err := p.store.TakeUserMessages(ctx, chatID, userID)
	if err != nil {
		return errors.WithMessage(err, "cant take user messages")
	}
	if len(messages) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, deleteDeadline)
	defer cancel()
	for _, msg := range messages {
		if err := p.deleter.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
			observability.Report(entry.WithField("message_id", msg.MessageID), "purge_message", err)
		}
	}
	entry.WithField("count", len(messages)).Debug("purged stored messages")
	return nil
}

// Prune forgets messages older than the retention period.
func (p *Purger) Prune(ctx context.Context) (int64, error) {
	n, err := p.store.PruneMessages(ctx, p.now().Add(-p.ttl))
	if err != nil {
		return 0, errors.WithMessage(err, "cant prune messages")
	}
	return n, nil
}

func (p *Purger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		for {
			p.prune(runCtx)
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	p.started = true
	return nil
}

func (p *Purger) prune(ctx context.Context) {
	entry := p.logger.WithField("method", "prune")
	n, err := p.Prune(ctx)
	if err != nil {
		if ctx.Err() == nil {
			observability.Report(entry, "prune_messages", err)
		}
		return
	}
	if n > 0 {
		entry.WithField("count", n).Debug("pruned message log")
	}
}

func (p *Purger) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
