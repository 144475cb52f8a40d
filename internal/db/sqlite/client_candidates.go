package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/will7455/shieldy/internal/db"
)

func (c *sqliteClient) UpsertCandidates(ctx context.Context, candidates []*db.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO candidates (
			chat_id, user_id, created_at, challenge_kind, expected_answer,
			challenge_message_id, entry_chat_id, entry_message_id, username
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			created_at = excluded.created_at,
			challenge_kind = excluded.challenge_kind,
			expected_answer = excluded.expected_answer,
			challenge_message_id = excluded.challenge_message_id,
			entry_chat_id = excluded.entry_chat_id,
			entry_message_id = excluded.entry_message_id,
			username = excluded.username
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert candidates: %w", err)
	}
	defer stmt.Close()

	for _, candidate := range candidates {
		if _, err := stmt.ExecContext(ctx,
			candidate.ChatID,
			candidate.UserID,
			candidate.CreatedAt.UTC(),
			candidate.ChallengeKind,
			candidate.ExpectedAnswer,
			candidate.ChallengeMessageID,
			candidate.EntryChatID,
			candidate.EntryMessageID,
			candidate.Username,
		); err != nil {
			return fmt.Errorf("upsert candidate %d/%d: %w", candidate.ChatID, candidate.UserID, err)
		}
	}
	return tx.Commit()
}

func (c *sqliteClient) DeleteCandidates(ctx context.Context, chatID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query, args, err := sqlx.In("DELETE FROM candidates WHERE chat_id = ? AND user_id IN (?)", chatID, userIDs)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, c.db.Rebind(query), args...)
	return err
}

func (c *sqliteClient) GetAllCandidates(ctx context.Context) ([]*db.Candidate, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var candidates []*db.Candidate
	err := c.db.SelectContext(ctx, &candidates, `
		SELECT chat_id, user_id, created_at, challenge_kind, expected_answer,
			challenge_message_id, entry_chat_id, entry_message_id, username
		FROM candidates
	`)
	return candidates, err
}

func (c *sqliteClient) UpsertRestrictedUsers(ctx context.Context, users []*db.RestrictedUser) error {
	if len(users) == 0 {
		return nil
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, user := range users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO restricted_users (chat_id, user_id, restricted_at) VALUES (?, ?, ?)
			ON CONFLICT(chat_id, user_id) DO UPDATE SET restricted_at = excluded.restricted_at
		`, user.ChatID, user.UserID, user.RestrictedAt.UTC()); err != nil {
			return fmt.Errorf("upsert restricted user %d/%d: %w", user.ChatID, user.UserID, err)
		}
	}
	return tx.Commit()
}

func (c *sqliteClient) DeleteRestrictedUsers(ctx context.Context, chatID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query, args, err := sqlx.In("DELETE FROM restricted_users WHERE chat_id = ? AND user_id IN (?)", chatID, userIDs)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, c.db.Rebind(query), args...)
	return err
}

func (c *sqliteClient) GetAllRestrictedUsers(ctx context.Context) ([]*db.RestrictedUser, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var users []*db.RestrictedUser
	err := c.db.SelectContext(ctx, &users, `SELECT chat_id, user_id, restricted_at FROM restricted_users`)
	return users, err
}
