package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/will7455/shieldy/internal/db"
)

type messageRow struct {
	ChatID      int64 `db:"chat_id"`
	UserID      int64 `db:"user_id"`
	MessageID   int   `db:"message_id"`
	CreatedUnix int64 `db:"created_unix"`
}

func (c *sqliteClient) LogMessage(ctx context.Context, msg *db.StoredMessage) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_log (chat_id, user_id, message_id, created_unix) VALUES (?, ?, ?, ?)
	`, msg.ChatID, msg.UserID, msg.MessageID, msg.CreatedAt.Unix())
	return err
}

// TakeUserMessages returns the logged messages of the user and forgets them.
func (c *sqliteClient) TakeUserMessages(ctx context.Context, chatID, userID int64) ([]*db.StoredMessage, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []messageRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT chat_id, user_id, message_id, created_unix FROM message_log
		WHERE chat_id = ? AND user_id = ?
		ORDER BY message_id
	`, chatID, userID); err != nil {
		return nil, fmt.Errorf("select user messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_log WHERE chat_id = ? AND user_id = ?`, chatID, userID); err != nil {
		return nil, fmt.Errorf("delete user messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	res := make([]*db.StoredMessage, 0, len(rows))
	for _, row := range rows {
		res = append(res, &db.StoredMessage{
			ChatID:    row.ChatID,
			UserID:    row.UserID,
			MessageID: row.MessageID,
			CreatedAt: time.Unix(row.CreatedUnix, 0),
		})
	}
	return res, nil
}

func (c *sqliteClient) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM message_log WHERE created_unix < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
