package bot_test

import (
	"context"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/will7455/shieldy/internal/bot"
	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/db/sqlite"
)

func TestServiceGetPolicyFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbClient, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = dbClient.Close() })

	service := bot.NewService(&api.BotAPI{}, dbClient, "ru")
	policy, err := service.GetPolicy(ctx, -1001234567890)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	expected := db.DefaultPolicy(-1001234567890)
	if policy.ID != expected.ID || policy.CaptchaType != expected.CaptchaType || policy.TimeGiven != expected.TimeGiven {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	if !policy.BanUsers {
		t.Fatalf("ban users must default to true")
	}
	if policy.Language != "ru" {
		t.Fatalf("unexpected language: %q", policy.Language)
	}
}

func TestServiceSetPolicyRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbClient, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = dbClient.Close() })

	service := bot.NewService(&api.BotAPI{}, dbClient, "")
	policy := db.DefaultPolicy(-100)
	policy.CaptchaType = db.ChallengeImage
	policy.Language = "uk"
	if err := service.SetPolicy(ctx, policy); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if lang := service.GetLanguage(ctx, -100); lang != "uk" {
		t.Fatalf("unexpected language: %q", lang)
	}
	if err := service.SetPolicy(ctx, nil); err == nil {
		t.Fatalf("expected error for nil policy")
	}
}
