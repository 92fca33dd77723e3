package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/davnik/sysslan/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) SaveActivity(ctx context.Context, activity *models.Activity) error {
	query := `
		INSERT INTO activities (conversation_id, activity_id, source_message_id, user_id,
			user_name, activity_type, activity, effort, confidence, message_ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		activity.ConversationID,
		activity.ActivityID,
		activity.SourceMessageID,
		activity.UserID,
		activity.UserName,
		activity.Type,
		activity.Activity,
		activity.Effort,
		activity.Confidence,
		activity.Timestamp,
		activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving activity: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetConversationActivities(ctx context.Context, conversationID int64, limit int) ([]*models.Activity, error) {
	query := `
		SELECT conversation_id, activity_id, source_message_id, user_id, user_name,
			activity_type, activity, effort, confidence, message_ts, created_at, bot_reply_id
		FROM activities
		WHERE conversation_id = $1
		ORDER BY activity_id DESC
		LIMIT $2`

	return s.queryActivities(ctx, query, conversationID, limit)
}

func (s *PostgresStorage) GetUserActivities(ctx context.Context, conversationID, userID int64, limit int) ([]*models.Activity, error) {
	query := `
		SELECT conversation_id, activity_id, source_message_id, user_id, user_name,
			activity_type, activity, effort, confidence, message_ts, created_at, bot_reply_id
		FROM activities
		WHERE conversation_id = $1 AND user_id = $2
		ORDER BY activity_id DESC
		LIMIT $3`

	return s.queryActivities(ctx, query, conversationID, userID, limit)
}

func (s *PostgresStorage) queryActivities(ctx context.Context, query string, args ...any) ([]*models.Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying activities: %w", err)
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		a := &models.Activity{}
		err := rows.Scan(
			&a.ConversationID,
			&a.ActivityID,
			&a.SourceMessageID,
			&a.UserID,
			&a.UserName,
			&a.Type,
			&a.Activity,
			&a.Effort,
			&a.Confidence,
			&a.Timestamp,
			&a.CreatedAt,
			&a.BotReplyID,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning activity: %w", err)
		}
		activities = append(activities, a)
	}

	return activities, rows.Err()
}

func (s *PostgresStorage) SetBotReplyID(ctx context.Context, conversationID int64, activityID, botReplyID string) error {
	query := `
		UPDATE activities
		SET bot_reply_id = $1
		WHERE conversation_id = $2 AND activity_id = $3`

	result, err := s.db.ExecContext(ctx, query, botReplyID, conversationID, activityID)
	if err != nil {
		return fmt.Errorf("error updating bot reply id: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("activity %s not found", activityID)
	}

	return nil
}

func (s *PostgresStorage) ListAliases(ctx context.Context, conversationID int64) ([]*models.AliasRecord, error) {
	query := `
		SELECT conversation_id, alias, canonical_activity, confirmations, source
		FROM aliases
		WHERE conversation_id = $1`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying aliases: %w", err)
	}
	defer rows.Close()

	var records []*models.AliasRecord
	for rows.Next() {
		r := &models.AliasRecord{}
		if err := rows.Scan(&r.ConversationID, &r.Alias, &r.CanonicalActivity, &r.Confirmations, &r.Source); err != nil {
			return nil, fmt.Errorf("error scanning alias: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (s *PostgresStorage) GetAlias(ctx context.Context, conversationID int64, alias string) (*models.AliasRecord, error) {
	query := `
		SELECT conversation_id, alias, canonical_activity, confirmations, source
		FROM aliases
		WHERE conversation_id = $1 AND alias = $2`

	r := &models.AliasRecord{}
	err := s.db.QueryRowContext(ctx, query, conversationID, alias).
		Scan(&r.ConversationID, &r.Alias, &r.CanonicalActivity, &r.Confirmations, &r.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying alias: %w", err)
	}

	return r, nil
}

func (s *PostgresStorage) PutAlias(ctx context.Context, record *models.AliasRecord) error {
	query := `
		INSERT INTO aliases (conversation_id, alias, canonical_activity, confirmations, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, alias)
		DO UPDATE SET canonical_activity = $3, confirmations = $4, source = $5`

	_, err := s.db.ExecContext(ctx, query,
		record.ConversationID, record.Alias, record.CanonicalActivity, record.Confirmations, record.Source)
	if err != nil {
		return fmt.Errorf("error saving alias: %w", err)
	}

	return nil
}

func (s *PostgresStorage) IncrementConfirmation(ctx context.Context, conversationID int64, alias string) error {
	query := `
		UPDATE aliases
		SET confirmations = confirmations + 1
		WHERE conversation_id = $1 AND alias = $2`

	if _, err := s.db.ExecContext(ctx, query, conversationID, alias); err != nil {
		return fmt.Errorf("error incrementing confirmation: %w", err)
	}

	return nil
}

func (s *PostgresStorage) DeleteAlias(ctx context.Context, conversationID int64, alias string) error {
	query := `DELETE FROM aliases WHERE conversation_id = $1 AND alias = $2`

	if _, err := s.db.ExecContext(ctx, query, conversationID, alias); err != nil {
		return fmt.Errorf("error deleting alias: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetResponseCount(ctx context.Context, conversationID int64, localDate string) (int, error) {
	query := `
		SELECT count FROM response_counters
		WHERE conversation_id = $1 AND local_date = $2 AND expires_at > now()`

	var count int
	err := s.db.QueryRowContext(ctx, query, conversationID, localDate).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error querying response count: %w", err)
	}

	return count, nil
}

func (s *PostgresStorage) IncrementResponseCount(ctx context.Context, conversationID int64, localDate string, now time.Time) (int, error) {
	query := `
		INSERT INTO response_counters (conversation_id, local_date, count, last_response_at, expires_at)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (conversation_id, local_date)
		DO UPDATE SET count = response_counters.count + 1, last_response_at = $3, expires_at = $4
		RETURNING count`

	var count int
	err := s.db.QueryRowContext(ctx, query, conversationID, localDate, now, now.Add(7*24*time.Hour)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error incrementing response count: %w", err)
	}

	return count, nil
}

func (s *PostgresStorage) GetLastResponseAt(ctx context.Context, conversationID int64, localDate string) (time.Time, error) {
	query := `
		SELECT last_response_at FROM response_counters
		WHERE conversation_id = $1 AND local_date = $2 AND expires_at > now()`

	var last time.Time
	err := s.db.QueryRowContext(ctx, query, conversationID, localDate).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("error querying last response time: %w", err)
	}

	return last, nil
}

func (s *PostgresStorage) AppendMessage(ctx context.Context, msg *models.RawMessage) error {
	query := `
		INSERT INTO raw_messages (conversation_id, message_id, user_id, content, message_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, message_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		msg.ConversationID, msg.MessageID, msg.UserID, msg.Text, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("error appending message: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*models.RawMessage, error) {
	query := `
		SELECT conversation_id, message_id, user_id, content, message_ts
		FROM raw_messages
		WHERE conversation_id = $1
		ORDER BY message_ts DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.RawMessage
	for rows.Next() {
		m := &models.RawMessage{}
		if err := rows.Scan(&m.ConversationID, &m.MessageID, &m.UserID, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (s *PostgresStorage) GetLearning(ctx context.Context, userID int64, kind, key string) (*models.LearningRecord, error) {
	query := `
		SELECT user_id, kind, key, value, sample_count
		FROM learning
		WHERE user_id = $1 AND kind = $2 AND key = $3`

	r := &models.LearningRecord{}
	err := s.db.QueryRowContext(ctx, query, userID, kind, key).
		Scan(&r.UserID, &r.Kind, &r.Key, &r.Value, &r.SampleCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying learning record: %w", err)
	}

	return r, nil
}

func (s *PostgresStorage) PutLearningChecked(ctx context.Context, record *models.LearningRecord, seenSampleCount int) (bool, error) {
	if seenSampleCount == 0 {
		// Row was absent at read time; losing the insert race counts as a
		// conflict, not an error.
		query := `
			INSERT INTO learning (user_id, kind, key, value, sample_count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, kind, key) DO NOTHING`

		result, err := s.db.ExecContext(ctx, query,
			record.UserID, record.Kind, record.Key, record.Value, record.SampleCount)
		if err != nil {
			return false, fmt.Errorf("error inserting learning record: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("error getting rows affected: %w", err)
		}
		return affected > 0, nil
	}

	query := `
		UPDATE learning
		SET value = $4, sample_count = $5
		WHERE user_id = $1 AND kind = $2 AND key = $3 AND sample_count = $6`

	result, err := s.db.ExecContext(ctx, query,
		record.UserID, record.Kind, record.Key, record.Value, record.SampleCount, seenSampleCount)
	if err != nil {
		return false, fmt.Errorf("error updating learning record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}

	return affected > 0, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
