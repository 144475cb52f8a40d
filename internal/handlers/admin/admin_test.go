package handlers

import (
	"context"
	"strings"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/will7455/shieldy/internal/db"
)

const testChatID = int64(-200)

type fakeMessenger struct {
	members  map[int64]api.ChatMember
	messages []api.MessageConfig
}

func (m *fakeMessenger) SendMessage(_ context.Context, msg api.MessageConfig) (api.Message, error) {
	m.messages = append(m.messages, msg)
	return api.Message{MessageID: len(m.messages)}, nil
}

func (m *fakeMessenger) GetChatMember(_ context.Context, _ int64, userID int64) (api.ChatMember, error) {
	if member, ok := m.members[userID]; ok {
		return member, nil
	}
	return api.ChatMember{Status: "member", User: &api.User{ID: userID}}, nil
}

func (m *fakeMessenger) lastText() string {
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1].Text
}

type fakePolicyStore struct {
	policies map[int64]*db.Policy
	saves    int
}

func (s *fakePolicyStore) GetPolicy(_ context.Context, chatID int64) (*db.Policy, error) {
	if p, ok := s.policies[chatID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *fakePolicyStore) SetPolicy(_ context.Context, policy *db.Policy) error {
	cp := *policy
	s.policies[policy.ID] = &cp
	s.saves++
	return nil
}

type fakeApprover struct {
	pending map[int64]bool
}

func (f *fakeApprover) Approve(_ context.Context, _ *api.Chat, user *api.User) (bool, error) {
	if !f.pending[user.ID] {
		return false, nil
	}
	delete(f.pending, user.ID)
	return true, nil
}

type adminEnv struct {
	admin     *Admin
	messenger *fakeMessenger
	store     *fakePolicyStore
}

func newAdminEnv() *adminEnv {
	env := &adminEnv{
		messenger: &fakeMessenger{members: map[int64]api.ChatMember{
			1: {Status: "creator", User: &api.User{ID: 1}},
			2: {Status: "administrator", User: &api.User{ID: 2}},
		}},
		store: &fakePolicyStore{policies: map[int64]*db.Policy{}},
	}
	env.admin = NewAdmin(env.messenger, env.store)
	return env
}

func commandUpdate(chat api.Chat, from int64, text string) *api.Update {
	command := strings.SplitN(text, " ", 2)[0]
	return &api.Update{Message: &api.Message{
		MessageID: 1,
		Chat:      chat,
		From:      &api.User{ID: from},
		Text:      text,
		Entities:  []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}},
	}}
}

func (env *adminEnv) run(t *testing.T, from int64, text string) bool {
	t.Helper()
	u := commandUpdate(api.Chat{ID: testChatID, Type: "supergroup", Title: "Gophers"}, from, text)
	proceed, err := env.admin.Handle(context.Background(), u, &u.Message.Chat, u.Message.From)
	if err != nil {
		t.Fatalf("handle %q: %v", text, err)
	}
	return proceed
}

func (env *adminEnv) policy() *db.Policy {
	if p, ok := env.store.policies[testChatID]; ok {
		return p
	}
	return db.DefaultPolicy(testChatID)
}

func TestNonAdminCommandsAreIgnored(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	if !env.run(t, 42, "/strict") {
		t.Fatalf("non admin command must proceed")
	}
	if env.store.saves != 0 || len(env.messenger.messages) != 0 {
		t.Fatalf("non admin changed state")
	}
}

func TestToggleCommands(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	if env.run(t, 1, "/strict") {
		t.Fatalf("handled command must not proceed")
	}
	if !env.policy().Strict {
		t.Fatalf("strict not enabled")
	}
	if env.messenger.lastText() != "Strict mode: enabled" {
		t.Fatalf("unexpected reply: %q", env.messenger.lastText())
	}

	env.run(t, 2, "/strict")
	if env.policy().Strict {
		t.Fatalf("strict not disabled")
	}

	env.run(t, 1, "/banusers")
	if env.policy().BanUsers {
		t.Fatalf("ban users should start enabled and be toggled off")
	}
	env.run(t, 1, "/underattack")
	env.run(t, 1, "/restrict")
	p := env.policy()
	if !p.UnderAttack || !p.Restrict {
		t.Fatalf("unexpected policy: %+v", p)
	}
}

func TestCaptchaCommand(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	env.run(t, 1, "/captcha image")
	if env.policy().CaptchaType != db.ChallengeImage {
		t.Fatalf("unexpected captcha type: %s", env.policy().CaptchaType)
	}

	env.run(t, 1, "/captcha riddle")
	if env.policy().CaptchaType != db.ChallengeImage {
		t.Fatalf("invalid kind changed the policy")
	}
	if !strings.HasPrefix(env.messenger.lastText(), "You should use one of the following options: simple, button") {
		t.Fatalf("unexpected reply: %q", env.messenger.lastText())
	}
}

func TestNumericCommandsValidateRange(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	env.run(t, 1, "/timelimit 5")
	if env.policy().TimeGiven != 60 {
		t.Fatalf("out of range time limit accepted")
	}
	if env.messenger.lastText() != "Please send a number between 10 and 3600" {
		t.Fatalf("unexpected reply: %q", env.messenger.lastText())
	}

	env.run(t, 1, "/timelimit 120")
	if env.policy().TimeGiven != 120 {
		t.Fatalf("time limit not set")
	}

	env.run(t, 1, "/deletegreetingtime 30")
	if env.policy().GreetingDeleteDelay().Seconds() != 30 {
		t.Fatalf("greeting lifetime not set")
	}
}

func TestTextCommands(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	env.run(t, 1, "/greetingtext")
	if env.store.saves != 0 {
		t.Fatalf("empty greeting saved")
	}

	env.run(t, 1, "/greetingtext Welcome, $username!")
	env.run(t, 1, "/captchatext $username, solve $equation")
	p := env.policy()
	if p.GreetingMessage != "Welcome, $username!" || p.CaptchaMessage != "$username, solve $equation" {
		t.Fatalf("unexpected policy: %+v", p)
	}
}

func TestLangCommand(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	env.run(t, 1, "/lang xx")
	if env.store.saves != 0 {
		t.Fatalf("unsupported language saved")
	}
	env.run(t, 1, "/lang ru")
	if env.policy().Language != "ru" {
		t.Fatalf("language not set: %q", env.policy().Language)
	}
}

func TestApproveCommand(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	approver := &fakeApprover{pending: map[int64]bool{42: true}}
	env.admin.SetApprover(approver)

	env.run(t, 1, "/approve")
	if env.messenger.lastText() != textReplyRequired {
		t.Fatalf("unexpected reply: %q", env.messenger.lastText())
	}

	u := commandUpdate(api.Chat{ID: testChatID, Type: "supergroup"}, 1, "/approve")
	u.Message.ReplyToMessage = &api.Message{MessageID: 7, From: &api.User{ID: 42}}
	if _, err := env.admin.Handle(context.Background(), u, &u.Message.Chat, u.Message.From); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if env.messenger.lastText() != textApproved || approver.pending[42] {
		t.Fatalf("candidate not approved: %q", env.messenger.lastText())
	}

	if _, err := env.admin.Handle(context.Background(), u, &u.Message.Chat, u.Message.From); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if env.messenger.lastText() != textNotCandidate {
		t.Fatalf("unexpected reply: %q", env.messenger.lastText())
	}
}

func TestHelpInPrivateChat(t *testing.T) {
	t.Parallel()

	env := newAdminEnv()
	u := commandUpdate(api.Chat{ID: 42, Type: "private"}, 42, "/start")
	proceed, err := env.admin.Handle(context.Background(), u, &u.Message.Chat, u.Message.From)
	if err != nil || proceed {
		t.Fatalf("unexpected result: %v %v", proceed, err)
	}
	if len(env.messenger.messages) != 1 || env.messenger.messages[0].ParseMode != api.ModeMarkdown {
		t.Fatalf("help not sent: %+v", env.messenger.messages)
	}

	// policy commands need a group
	u = commandUpdate(api.Chat{ID: 42, Type: "private"}, 42, "/strict")
	if _, err := env.admin.Handle(context.Background(), u, &u.Message.Chat, u.Message.From); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if env.store.saves != 0 {
		t.Fatalf("policy changed in private chat")
	}
}
