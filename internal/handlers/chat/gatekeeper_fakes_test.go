package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/will7455/shieldy/internal/config"
	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/registry"
)

const (
	testChatID = int64(-100)
	testBotID  = int64(777)
	testAdmin  = int64(1)
)

type kickCall struct {
	chatID int64
	userID int64
	until  time.Time
}

type restrictCall struct {
	chatID      int64
	userID      int64
	permissions *api.ChatPermissions
	until       time.Time
}

type deleteCall struct {
	chatID    int64
	messageID int
}

type fakePlatform struct {
	mu sync.Mutex

	admins  []api.ChatMember
	members map[int64]api.ChatMember

	messages  []api.MessageConfig
	photos    []api.PhotoConfig
	deleted   []deleteCall
	kicks     []kickCall
	restricts []restrictCall
	callbacks []string

	nextMessageID int
	sendErr       error
	kickErr       error
	kickHook      func()
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		admins: []api.ChatMember{
			{Status: "creator", User: &api.User{ID: testAdmin}},
			{Status: "administrator", User: &api.User{ID: testBotID, IsBot: true}},
		},
		members:       map[int64]api.ChatMember{},
		nextMessageID: 1000,
	}
}

func (p *fakePlatform) Self() api.User {
	return api.User{ID: testBotID, IsBot: true, UserName: "shieldy_bot"}
}

func (p *fakePlatform) SendMessage(_ context.Context, msg api.MessageConfig) (api.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return api.Message{}, p.sendErr
	}
	p.messages = append(p.messages, msg)
	p.nextMessageID++
	return api.Message{MessageID: p.nextMessageID}, nil
}

func (p *fakePlatform) SendPhoto(_ context.Context, photo api.PhotoConfig) (api.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return api.Message{}, p.sendErr
	}
	p.photos = append(p.photos, photo)
	p.nextMessageID++
	return api.Message{MessageID: p.nextMessageID}, nil
}

func (p *fakePlatform) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, deleteCall{chatID: chatID, messageID: messageID})
	return nil
}

func (p *fakePlatform) KickMember(_ context.Context, chatID, userID int64, until time.Time) error {
	if p.kickHook != nil {
		p.kickHook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kicks = append(p.kicks, kickCall{chatID: chatID, userID: userID, until: until})
	return p.kickErr
}

func (p *fakePlatform) RestrictMember(_ context.Context, chatID, userID int64, permissions *api.ChatPermissions, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restricts = append(p.restricts, restrictCall{chatID: chatID, userID: userID, permissions: permissions, until: until})
	return nil
}

func (p *fakePlatform) GetChatMember(_ context.Context, _ int64, userID int64) (api.ChatMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if member, ok := p.members[userID]; ok {
		return member, nil
	}
	return api.ChatMember{Status: "member", User: &api.User{ID: userID}}, nil
}

func (p *fakePlatform) GetChatAdministrators(context.Context, int64) ([]api.ChatMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admins, nil
}

func (p *fakePlatform) AnswerCallback(_ context.Context, _ string, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, text)
	return nil
}

func (p *fakePlatform) wasDeleted(messageID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.deleted {
		if d.messageID == messageID {
			return true
		}
	}
	return false
}

func (p *fakePlatform) deleteCount(messageID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, d := range p.deleted {
		if d.messageID == messageID {
			n++
		}
	}
	return n
}

func (p *fakePlatform) kickCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.kicks)
}

type fakePolicies struct {
	mu       sync.Mutex
	policies map[int64]*db.Policy
}

func (f *fakePolicies) GetPolicy(_ context.Context, chatID int64) (*db.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.policies[chatID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

type fakeReputation struct {
	banned map[int64]bool
	err    error
}

func (f *fakeReputation) IsReputationBanned(_ context.Context, userID int64) (bool, error) {
	return f.banned[userID], f.err
}

type fakeChallenges struct{}

func (fakeChallenges) GenerateDigitsChallenge() (string, string) {
	return "3 + 4", "7"
}

func (fakeChallenges) GenerateImageChallenge() ([]byte, string, error) {
	return []byte{0x89, 'P', 'N', 'G'}, "cat", nil
}

type fakePurger struct {
	mu    sync.Mutex
	calls []int64
}

func (f *fakePurger) PurgeStoredMessages(_ context.Context, _ int64, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return nil
}

type fakeHelp struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeHelp) SendHelp(context.Context, int64, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type testEnv struct {
	g          *Gatekeeper
	platform   *fakePlatform
	policies   *fakePolicies
	reputation *fakeReputation
	purger     *fakePurger
	help       *fakeHelp
	now        time.Time
}

func newTestEnv(t *testing.T, policy *db.Policy) *testEnv {
	t.Helper()
	env := &testEnv{
		platform:   newFakePlatform(),
		policies:   &fakePolicies{policies: map[int64]*db.Policy{policy.ID: policy}},
		reputation: &fakeReputation{banned: map[int64]bool{}},
		purger:     &fakePurger{},
		help:       &fakeHelp{},
		now:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	env.g = NewGatekeeper(Dependencies{
		Platform:   env.platform,
		Policies:   env.policies,
		Reputation: env.reputation,
		Challenges: fakeChallenges{},
		Purger:     env.purger,
		Help:       env.help,
		Registry:   registry.New(nil),
		Guard:      registry.NewGuard(),
	}, config.Gatekeeper{MaxKickAttempts: 3})
	env.g.now = func() time.Time { return env.now }
	t.Cleanup(func() { _ = env.g.Stop(context.Background()) })
	return env
}

func testPolicy() *db.Policy {
	return db.DefaultPolicy(testChatID)
}

func joinUpdate(messageID int, from int64, members ...api.User) *api.Update {
	return &api.Update{Message: &api.Message{
		MessageID:      messageID,
		Chat:           api.Chat{ID: testChatID, Title: "Gophers", Type: "supergroup"},
		From:           &api.User{ID: from},
		NewChatMembers: members,
	}}
}

func textUpdate(messageID int, from *api.User, text string) *api.Update {
	return &api.Update{Message: &api.Message{
		MessageID: messageID,
		Chat:      api.Chat{ID: testChatID, Title: "Gophers", Type: "supergroup"},
		From:      from,
		Text:      text,
	}}
}

func (env *testEnv) handle(t *testing.T, u *api.Update) bool {
	t.Helper()
	proceed, err := env.g.Handle(context.Background(), u, u.FromChat(), u.SentFrom())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	return proceed
}
