package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/mirrord/store"
)

const userRecordColumns = `identity, first_seen_ts, subscription_tier, daily_message_counts, memories,
	conversation_history, messages_since_extraction, created_ts, updated_ts`

func (d *DB) CreateUserRecord(ctx context.Context, create *store.UserRecord) (*store.UserRecord, error) {
	cols, err := store.EncodeRecordColumns(create.DailyMessageCounts, create.Memories, create.ConversationHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user_record: %w", err)
	}

	args := []any{
		create.Identity,
		create.FirstSeenAt.Unix(),
		string(create.SubscriptionTier),
		cols.DailyMessageCounts,
		cols.Memories,
		cols.ConversationHistory,
		create.MessagesSinceLastExtraction,
		create.CreatedTs,
		create.UpdatedTs,
	}
	stmt := `INSERT INTO user_record (` + userRecordColumns + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (identity) DO NOTHING`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create user_record: %w", err)
	}

	record, err := d.GetUserRecord(ctx, create.Identity)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("user_record %q missing after insert", create.Identity)
	}
	return record, nil
}

func (d *DB) GetUserRecord(ctx context.Context, identity string) (*store.UserRecord, error) {
	query := `SELECT ` + userRecordColumns + ` FROM user_record WHERE identity = ` + placeholder(1)

	record := &store.UserRecord{}
	var firstSeen int64
	var tier string
	var cols store.RecordColumns
	err := d.db.QueryRowContext(ctx, query, identity).Scan(
		&record.Identity,
		&firstSeen,
		&tier,
		&cols.DailyMessageCounts,
		&cols.Memories,
		&cols.ConversationHistory,
		&record.MessagesSinceLastExtraction,
		&record.CreatedTs,
		&record.UpdatedTs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user_record: %w", err)
	}

	record.FirstSeenAt = time.Unix(firstSeen, 0)
	record.SubscriptionTier = store.SubscriptionTier(tier)
	if err := store.DecodeRecordColumns(record, cols); err != nil {
		return nil, fmt.Errorf("failed to decode user_record %q: %w", identity, err)
	}
	return record, nil
}

func (d *DB) UpdateUserRecord(ctx context.Context, update *store.UpdateUserRecord) (*store.UserRecord, error) {
	set, args := []string{}, []any{}

	if update.SubscriptionTier != nil {
		set, args = append(set, "subscription_tier = "+placeholder(len(args)+1)), append(args, string(*update.SubscriptionTier))
	}
	if update.DailyMessageCounts != nil || update.Memories != nil || update.ConversationHistory != nil {
		var memories []string
		var history []store.Turn
		if update.Memories != nil {
			memories = *update.Memories
		}
		if update.ConversationHistory != nil {
			history = *update.ConversationHistory
		}
		cols, err := store.EncodeRecordColumns(update.DailyMessageCounts, memories, history)
		if err != nil {
			return nil, fmt.Errorf("failed to encode user_record: %w", err)
		}
		if update.DailyMessageCounts != nil {
			set, args = append(set, "daily_message_counts = "+placeholder(len(args)+1)), append(args, cols.DailyMessageCounts)
		}
		if update.Memories != nil {
			set, args = append(set, "memories = "+placeholder(len(args)+1)), append(args, cols.Memories)
		}
		if update.ConversationHistory != nil {
			set, args = append(set, "conversation_history = "+placeholder(len(args)+1)), append(args, cols.ConversationHistory)
		}
	}
	if update.MessagesSinceLastExtraction != nil {
		set, args = append(set, "messages_since_extraction = "+placeholder(len(args)+1)), append(args, *update.MessagesSinceLastExtraction)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())

	args = append(args, update.Identity)
	stmt := `UPDATE user_record SET ` + strings.Join(set, ", ") + ` WHERE identity = ` + placeholder(len(args))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update user_record: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}

	return d.GetUserRecord(ctx, update.Identity)
}
