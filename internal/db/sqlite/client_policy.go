package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/will7455/shieldy/internal/db"
)

const policyColumns = `id, language, captcha_type, strict_mode, restrict_users, ban_users, time_given,
	under_attack, delete_entry_messages, delete_entry_on_kick, greets_users, greeting_message,
	delete_greeting_time, custom_captcha_message, captcha_message`

// GetPolicy returns nil without error when the chat has no stored policy.
func (c *sqliteClient) GetPolicy(ctx context.Context, chatID int64) (*db.Policy, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	res := &db.Policy{}
	err := c.db.GetContext(ctx, res, "SELECT "+policyColumns+" FROM chats WHERE id = ?", chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get policy %d: %w", chatID, err)
	}
	return res, nil
}

func (c *sqliteClient) SetPolicy(ctx context.Context, policy *db.Policy) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO chats (` + policyColumns + `)
		VALUES (:id, :language, :captcha_type, :strict_mode, :restrict_users, :ban_users, :time_given,
			:under_attack, :delete_entry_messages, :delete_entry_on_kick, :greets_users, :greeting_message,
			:delete_greeting_time, :custom_captcha_message, :captcha_message)
		ON CONFLICT(id) DO UPDATE SET
			language = excluded.language,
			captcha_type = excluded.captcha_type,
			strict_mode = excluded.strict_mode,
			restrict_users = excluded.restrict_users,
			ban_users = excluded.ban_users,
			time_given = excluded.time_given,
			under_attack = excluded.under_attack,
			delete_entry_messages = excluded.delete_entry_messages,
			delete_entry_on_kick = excluded.delete_entry_on_kick,
			greets_users = excluded.greets_users,
			greeting_message = excluded.greeting_message,
			delete_greeting_time = excluded.delete_greeting_time,
			custom_captcha_message = excluded.custom_captcha_message,
			captcha_message = excluded.captcha_message
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, policy))
}
