package purge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/will7455/shieldy/internal/db"
)

type memoryStore struct {
	mu       sync.Mutex
	messages []*db.StoredMessage
	pruned   []time.Time
}

func (s *memoryStore) LogMessage(_ context.Context, msg *db.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memoryStore) TakeUserMessages(_ context.Context, chatID, userID int64) ([]*db.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var taken, kept []*db.StoredMessage
	for _, m := range s.messages {
		if m.ChatID == chatID && m.UserID == userID {
			taken = append(taken, m)
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return taken, nil
}

func (s *memoryStore) PruneMessages(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, before)
	return 0, nil
}

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []int
	err     error
}

func (d *recordingDeleter) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, messageID)
	return d.err
}

func message(chatID, userID int64, messageID int) (*api.Update, *api.Chat, *api.User) {
	u := &api.Update{Message: &api.Message{
		MessageID: messageID,
		Chat:      api.Chat{ID: chatID, Type: "supergroup"},
		From:      &api.User{ID: userID},
		Text:      "hello",
	}}
	return u, &u.Message.Chat, u.Message.From
}

func TestRecordAndPurge(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	deleter := &recordingDeleter{err: errors.New("message to delete not found")}
	p := New(store, deleter, time.Hour)
	ctx := context.Background()

	for i, userID := range []int64{5, 5, 6} {
		u, chat, user := message(-1, userID, 10+i)
		proceed, err := p.Handle(ctx, u, chat, user)
		if err != nil || !proceed {
			t.Fatalf("handle: %v %v", proceed, err)
		}
	}

	if err := p.PurgeStoredMessages(ctx, -1, 5); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(deleter.deleted) != 2 || deleter.deleted[0] != 10 || deleter.deleted[1] != 11 {
		t.Fatalf("unexpected deletions: %v", deleter.deleted)
	}
	if len(store.messages) != 1 || store.messages[0].UserID != 6 {
		t.Fatalf("unexpected remaining log: %+v", store.messages)
	}
}

func TestHandleSkipsServiceMessages(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	p := New(store, &recordingDeleter{}, 0)

	u, chat, user := message(-1, 5, 1)
	u.Message.NewChatMembers = []api.User{{ID: 5}}
	_, _ = p.Handle(context.Background(), u, chat, user)

	u, chat, user = message(5, 5, 2)
	chat.Type = "private"
	_, _ = p.Handle(context.Background(), u, chat, user)

	if len(store.messages) != 0 {
		t.Fatalf("service or private messages logged: %+v", store.messages)
	}
}

func TestPruneUsesRetention(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	p := New(store, &recordingDeleter{}, 48*time.Hour)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if _, err := p.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(store.pruned) != 1 || !store.pruned[0].Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("unexpected prune cutoff: %v", store.pruned)
	}
}

func TestStartPrunesImmediately(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	p := New(store, &recordingDeleter{}, time.Hour)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.pruned)
		store.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prune did not run on start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
