package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/i18n"
)

const (
	minTimeLimit         = 10
	maxTimeLimit         = 3600
	maxGreetingLifetime  = 86400
	helpText             = "Hi! I am a captcha bot. Make me an administrator with the rights to delete messages and ban users, and every newcomer will have to prove they are human.\n\n*Commands for administrators*\n/captcha `simple|button|digits|image` - captcha type\n/timelimit `seconds` - time to solve the captcha\n/strict - delete wrong answers\n/restrict - newcomers can only send text for 24 hours\n/banusers - ban instead of a short kick\n/underattack - kick every newcomer\n/deleteentry - delete join messages\n/deleteentryonkick - delete join messages of kicked users\n/greeting - greet verified users\n/greetingtext `text` - greeting, supports $username, $fullname and $title\n/deletegreetingtime `seconds` - delete the greeting after a delay, 0 keeps it\n/customcaptcha - use a custom captcha message\n/captchatext `text` - custom captcha message, supports $username, $fullname, $title, $equation and $seconds\n/lang `code` - language\n/approve - reply to a newcomer to let them in"
	textOptions          = "You should use one of the following options"
	textProvideArgument  = "Please provide the value after the command"
	textLanguageSet      = "Language set successfully"
	textCaptchaSet       = "Captcha type set successfully"
	textTimeLimitSet     = "Time limit set successfully"
	textGreetingSet      = "Greeting message set successfully"
	textCaptchaTextSet   = "Captcha message set successfully"
	textGreetingTimeSet  = "Greeting lifetime set successfully"
	textNumberOutOfRange = "Please send a number between %d and %d"
	textReplyRequired    = "Reply to a message of the user you want to approve"
	textApproved         = "User approved"
	textNotCandidate     = "This user is not waiting for verification"
	textEnabled          = "enabled"
	textDisabled         = "disabled"
)

type command struct {
	groupOnly bool
	// run returns the reply and whether the policy must be saved.
	run func(ctx context.Context, a *Admin, msg *api.Message, policy *db.Policy) (string, bool, error)
}

var commands = map[string]command{
	"help":  {run: runHelp},
	"start": {run: runHelp},

	"captcha":            {groupOnly: true, run: runCaptcha},
	"timelimit":          {groupOnly: true, run: runTimeLimit},
	"deletegreetingtime": {groupOnly: true, run: runDeleteGreetingTime},
	"greetingtext":       {groupOnly: true, run: runGreetingText},
	"captchatext":        {groupOnly: true, run: runCaptchaText},
	"lang":               {run: runLang},
	"approve":            {groupOnly: true, run: runApprove},

	"strict":            toggle("Strict mode", func(p *db.Policy) *bool { return &p.Strict }),
	"restrict":          toggle("Restriction of newcomers", func(p *db.Policy) *bool { return &p.Restrict }),
	"banusers":          toggle("Banning of kicked users", func(p *db.Policy) *bool { return &p.BanUsers }),
	"underattack":       toggle("Under attack mode", func(p *db.Policy) *bool { return &p.UnderAttack }),
	"deleteentry":       toggle("Deletion of join messages", func(p *db.Policy) *bool { return &p.DeleteEntryMessages }),
	"deleteentryonkick": toggle("Deletion of join messages of kicked users", func(p *db.Policy) *bool { return &p.DeleteEntryOnKick }),
	"greeting":          toggle("Greeting", func(p *db.Policy) *bool { return &p.GreetsUsers }),
	"customcaptcha":     toggle("Custom captcha message", func(p *db.Policy) *bool { return &p.CustomCaptchaMessage }),
}

func toggle(title string, field func(p *db.Policy) *bool) command {
	return command{
		groupOnly: true,
		run: func(_ context.Context, _ *Admin, _ *api.Message, policy *db.Policy) (string, bool, error) {
			value := field(policy)
			*value = !*value
			state := textDisabled
			if *value {
				state = textEnabled
			}
			return i18n.Get(title, policy.Language) + ": " + i18n.Get(state, policy.Language), true, nil
		},
	}
}

func runHelp(ctx context.Context, a *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	return "", false, a.SendHelp(ctx, msg.Chat.ID, policy.Language)
}

func runCaptcha(_ context.Context, _ *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	kind, ok := db.ParseChallengeKind(msg.CommandArguments())
	if !ok {
		names := make([]string, 0, len(db.ChallengeKinds()))
		for _, k := range db.ChallengeKinds() {
			names = append(names, string(k))
		}
		return i18n.Get(textOptions, policy.Language) + ": " + strings.Join(names, ", "), false, nil
	}
	policy.CaptchaType = kind
	return i18n.Get(textCaptchaSet, policy.Language), true, nil
}

func runTimeLimit(_ context.Context, _ *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	seconds, reply := parseSeconds(msg.CommandArguments(), minTimeLimit, maxTimeLimit, policy.Language)
	if reply != "" {
		return reply, false, nil
	}
	policy.TimeGiven = seconds
	return i18n.Get(textTimeLimitSet, policy.Language), true, nil
}

func runDeleteGreetingTime(_ context.Context, _ *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	seconds, reply := parseSeconds(msg.CommandArguments(), 0, maxGreetingLifetime, policy.Language)
	if reply != "" {
		return reply, false, nil
	}
	policy.DeleteGreetingTime = seconds
	return i18n.Get(textGreetingTimeSet, policy.Language), true, nil
}

func runGreetingText(_ context.Context, _ *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		return i18n.Get(textProvideArgument, policy.Language), false, nil
	}
	policy.GreetingMessage = text
	return i18n.Get(textGreetingSet, policy.Language), true, nil
}

func runCaptchaText(_ context.Context, _ *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		return i18n.Get(textProvideArgument, policy.Language), false, nil
	}
	policy.CaptchaMessage = text
	return i18n.Get(textCaptchaTextSet, policy.Language), true, nil
}

func runLang(_ context.Context, a *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	argument := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	if !i18n.IsSupported(argument) {
		return i18n.Get(textOptions, policy.Language) + ": " + i18n.DescribeLanguages(a.languages), false, nil
	}
	policy.Language = argument
	return i18n.Get(textLanguageSet, argument), true, nil
}

func runApprove(ctx context.Context, a *Admin, msg *api.Message, policy *db.Policy) (string, bool, error) {
	approver := a.getApprover()
	if approver == nil {
		return "", false, nil
	}
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		return i18n.Get(textReplyRequired, policy.Language), false, nil
	}
	ok, err := approver.Approve(ctx, &msg.Chat, msg.ReplyToMessage.From)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return i18n.Get(textNotCandidate, policy.Language), false, nil
	}
	return i18n.Get(textApproved, policy.Language), false, nil
}

func parseSeconds(argument string, lo, hi int, language string) (int, string) {
	seconds, err := strconv.Atoi(strings.TrimSpace(argument))
	if err != nil || seconds < lo || seconds > hi {
		return 0, fmt.Sprintf(i18n.Get(textNumberOutOfRange, language), lo, hi)
	}
	return seconds, ""
}
