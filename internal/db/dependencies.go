package db

import (
	"context"
	"time"
)

type Client interface {
	Close() error

	GetPolicy(ctx context.Context, chatID int64) (*Policy, error)
	SetPolicy(ctx context.Context, policy *Policy) error

	UpsertCandidates(ctx context.Context, candidates []*Candidate) error
	DeleteCandidates(ctx context.Context, chatID int64, userIDs []int64) error
	GetAllCandidates(ctx context.Context) ([]*Candidate, error)

	UpsertRestrictedUsers(ctx context.Context, users []*RestrictedUser) error
	DeleteRestrictedUsers(ctx context.Context, chatID int64, userIDs []int64) error
	GetAllRestrictedUsers(ctx context.Context) ([]*RestrictedUser, error)

	LogMessage(ctx context.Context, msg *StoredMessage) error
	TakeUserMessages(ctx context.Context, chatID, userID int64) ([]*StoredMessage, error)
	PruneMessages(ctx context.Context, before time.Time) (int64, error)
}
