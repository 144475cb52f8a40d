package db

import (
	"strings"
	"time"
)

type ChallengeKind string

const (
	// ChallengeNone accepts any text message as the answer.
	ChallengeNone   ChallengeKind = "simple"
	ChallengeButton ChallengeKind = "button"
	ChallengeDigits ChallengeKind = "digits"
	ChallengeImage  ChallengeKind = "image"
)

var challengeKinds = []ChallengeKind{ChallengeNone, ChallengeButton, ChallengeDigits, ChallengeImage}

func ChallengeKinds() []ChallengeKind {
	res := make([]ChallengeKind, len(challengeKinds))
	copy(res, challengeKinds)
	return res
}

// ParseChallengeKind accepts the stored names and "none" as an alias of simple.
func ParseChallengeKind(s string) (ChallengeKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "none" {
		return ChallengeNone, true
	}
	for _, kind := range challengeKinds {
		if string(kind) == s {
			return kind, true
		}
	}
	return "", false
}

type (
	// Candidate is a joined user with a pending verification. Records are never
	// updated in place, only created and removed.
	Candidate struct {
		ChatID             int64         `db:"chat_id"`
		UserID             int64         `db:"user_id"`
		CreatedAt          time.Time     `db:"created_at"`
		ChallengeKind      ChallengeKind `db:"challenge_kind"`
		ExpectedAnswer     string        `db:"expected_answer"`
		ChallengeMessageID int           `db:"challenge_message_id"`
		EntryChatID        int64         `db:"entry_chat_id"`
		EntryMessageID     int           `db:"entry_message_id"`
		Username           string        `db:"username"`
	}

	RestrictedUser struct {
		ChatID       int64     `db:"chat_id"`
		UserID       int64     `db:"user_id"`
		RestrictedAt time.Time `db:"restricted_at"`
	}

	StoredMessage struct {
		ChatID    int64     `db:"chat_id"`
		UserID    int64     `db:"user_id"`
		MessageID int       `db:"message_id"`
		CreatedAt time.Time `db:"created_at"`
	}
)

// Expired reports whether the challenge window has fully elapsed at now.
func (c *Candidate) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(c.CreatedAt) >= window
}

func (r *RestrictedUser) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.RestrictedAt) > ttl
}
