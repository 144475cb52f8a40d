package db

import "time"

const (
	defaultTimeGiven = 60
	defaultLanguage  = "en"
)

// Policy is the per-chat gatekeeper configuration.
type Policy struct {
	ID                   int64         `db:"id"`
	Language             string        `db:"language"`
	CaptchaType          ChallengeKind `db:"captcha_type"`
	Strict               bool          `db:"strict_mode"`
	Restrict             bool          `db:"restrict_users"`
	BanUsers             bool          `db:"ban_users"`
	TimeGiven            int           `db:"time_given"`
	UnderAttack          bool          `db:"under_attack"`
	DeleteEntryMessages  bool          `db:"delete_entry_messages"`
	DeleteEntryOnKick    bool          `db:"delete_entry_on_kick"`
	GreetsUsers          bool          `db:"greets_users"`
	GreetingMessage      string        `db:"greeting_message"`
	DeleteGreetingTime   int           `db:"delete_greeting_time"`
	CustomCaptchaMessage bool          `db:"custom_captcha_message"`
	CaptchaMessage       string        `db:"captcha_message"`
}

func DefaultPolicy(chatID int64) *Policy {
	return &Policy{
		ID:          chatID,
		Language:    defaultLanguage,
		CaptchaType: ChallengeNone,
		BanUsers:    true,
		TimeGiven:   defaultTimeGiven,
	}
}

// ChallengeWindow returns how long a candidate has to answer.
func (p *Policy) ChallengeWindow() time.Duration {
	if p == nil || p.TimeGiven <= 0 {
		return defaultTimeGiven * time.Second
	}
	return time.Duration(p.TimeGiven) * time.Second
}

func (p *Policy) GreetingDeleteDelay() time.Duration {
	if p == nil || p.DeleteGreetingTime <= 0 {
		return 0
	}
	return time.Duration(p.DeleteGreetingTime) * time.Second
}
