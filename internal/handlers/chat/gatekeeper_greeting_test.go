package handlers

import (
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/will7455/shieldy/internal/db"
)

func TestRenderGreeting(t *testing.T) {
	t.Parallel()

	user := &api.User{ID: 1, FirstName: "Ann", LastName: "Lee", UserName: "ann"}
	cases := []struct {
		template string
		want     string
	}{
		{template: "Welcome!", want: "Welcome!\n\n@ann"},
		{template: "Hi $fullname, this is $title", want: "Hi Ann Lee, this is Gophers"},
		{template: "$username", want: "@ann"},
	}
	for _, tc := range cases {
		if got := renderGreeting(tc.template, user, "Gophers"); got != tc.want {
			t.Fatalf("renderGreeting(%q): got %q want %q", tc.template, got, tc.want)
		}
	}
}

func TestGreetingIsDeletedAfterDelay(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.GreetsUsers = true
	policy.GreetingMessage = "Welcome"
	policy.DeleteGreetingTime = 1
	env := newTestEnv(t, policy)
	user := &api.User{ID: 42}

	env.handle(t, joinUpdate(10, 42, *user))
	env.handle(t, textUpdate(20, user, "hello"))
	if env.g.tasks.Pending() != 1 {
		t.Fatalf("greeting deletion not scheduled")
	}
	env.platform.mu.Lock()
	greetingID := env.platform.nextMessageID
	env.platform.mu.Unlock()

	deadline := time.Now().Add(3 * time.Second)
	for !env.platform.wasDeleted(greetingID) {
		if time.Now().After(deadline) {
			t.Fatalf("greeting %d was not deleted", greetingID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCustomCaptchaMessage(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.CaptchaType = db.ChallengeDigits
	policy.CustomCaptchaMessage = true
	policy.CaptchaMessage = "$username, $equation = ? You have $seconds seconds"
	env := newTestEnv(t, policy)

	env.handle(t, joinUpdate(10, 42, api.User{ID: 42, UserName: "ann"}))
	if got := env.platform.messages[0].Text; got != "@ann, 3 + 4 = ? You have 60 seconds" {
		t.Fatalf("unexpected captcha text: %q", got)
	}

	// a digits template without the equation falls back to the default text
	policy.CaptchaMessage = "Prove you are human"
	env = newTestEnv(t, policy)
	env.handle(t, joinUpdate(10, 42, api.User{ID: 42, UserName: "ann"}))
	if got := env.platform.messages[0].Text; got == "Prove you are human" || got[:8] != "(3 + 4) " {
		t.Fatalf("unexpected fallback text: %q", got)
	}

	policy.CaptchaType = db.ChallengeNone
	env = newTestEnv(t, policy)
	env.handle(t, joinUpdate(10, 42, api.User{ID: 42, UserName: "ann"}))
	if got := env.platform.messages[0].Text; got != "@ann\n\nProve you are human" {
		t.Fatalf("unexpected template without placeholders: %q", got)
	}
}
