package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fitness-bot/internal/models"
	"fitness-bot/pkg/logger"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteDB is the embedded single-file store.
type SQLiteDB struct {
	conn   *sql.DB
	logger *logger.Logger
}

// NewSQLiteDB opens the database file at path (":memory:" for tests),
// configures it for a single writer and applies migrations.
func NewSQLiteDB(ctx context.Context, path string, log *logger.Logger) (*SQLiteDB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	// One connection serializes writers and keeps ":memory:" on a single database.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to exec %q: %w", p, err)
		}
	}

	if err := Migrate(ctx, conn, goose.DialectSQLite3); err != nil {
		conn.Close()
		return nil, err
	}

	return &SQLiteDB{conn: conn, logger: log}, nil
}

func (db *SQLiteDB) Close() {
	if db.conn != nil {
		db.conn.Close()
	}
}

func (db *SQLiteDB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return db.fail("ping", err)
	}
	return nil
}

// withTx runs fn in a transaction that is rolled back unless fn succeeds.
func (db *SQLiteDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *SQLiteDB) fail(op string, err error) error {
	if isNoRows(err, sql.ErrNoRows) {
		return notFound(op)
	}
	db.logger.Error("Storage operation failed", "op", op, "error", err)
	return unavailable(op, err)
}

func (db *SQLiteDB) UpsertUser(ctx context.Context, id UserIdentity) error {
	query := `
        INSERT INTO users (user_id, username, first_name, last_name, created_at, last_activity)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE
        SET username = excluded.username, first_name = excluded.first_name, last_name = excluded.last_name
    `

	now := nowUTC()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			id.UserID, nullString(id.Username), nullString(id.FirstName), nullString(id.LastName), now, now,
		)
		return err
	})
	if err != nil {
		return db.fail("upsert user", err)
	}
	return nil
}

func (db *SQLiteDB) UpsertChat(ctx context.Context, chatID int64, chatType, title string) error {
	query := `
        INSERT INTO chats (chat_id, chat_type, chat_title, created_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (chat_id) DO UPDATE
        SET chat_type = excluded.chat_type, chat_title = excluded.chat_title
    `

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, chatID, chatType, nullString(title), nowUTC())
		return err
	})
	if err != nil {
		return db.fail("upsert chat", err)
	}
	return nil
}

func (db *SQLiteDB) AppendMessage(ctx context.Context, chatID, userID int64, text string) (*models.Message, error) {
	msg := &models.Message{
		ChatID:      chatID,
		UserID:      userID,
		MessageText: text,
		Timestamp:   nowUTC(),
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO message_history (chat_id, user_id, message_text, timestamp) VALUES (?, ?, ?, ?)`,
			chatID, userID, text, msg.Timestamp,
		)
		if err != nil {
			return err
		}
		if msg.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET last_activity = ? WHERE user_id = ?`,
			msg.Timestamp, userID,
		)
		return err
	})
	if err != nil {
		return nil, db.fail("append message", err)
	}
	return msg, nil
}

func (db *SQLiteDB) GetHistory(ctx context.Context, chatID int64, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		return []models.HistoryEntry{}, nil
	}

	query := `
        SELECT mh.id, mh.chat_id, mh.user_id, mh.message_text, mh.timestamp, u.first_name, u.username
        FROM message_history mh
        LEFT JOIN users u ON mh.user_id = u.user_id
        WHERE mh.chat_id = ?
        ORDER BY mh.timestamp DESC, mh.id DESC
        LIMIT ?
    `

	rows, err := db.conn.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, db.fail("get history", err)
	}
	defer rows.Close()

	history := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		var e models.HistoryEntry
		var firstName, username sql.NullString
		if err := rows.Scan(&e.ID, &e.ChatID, &e.UserID, &e.MessageText, &e.Timestamp, &firstName, &username); err != nil {
			return nil, db.fail("get history", err)
		}
		e.FirstName = firstName.String
		e.Username = username.String
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get history", err)
	}

	reverse(history)
	return history, nil
}

func (db *SQLiteDB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query := `
        SELECT user_id, username, first_name, last_name, fitness_level, goals, created_at, last_activity
        FROM users
        WHERE user_id = ?
    `

	var user models.User
	var username, firstName, lastName sql.NullString
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &username, &firstName, &lastName,
		&user.FitnessLevel, &user.Goals, &user.CreatedAt, &user.LastActivity,
	)
	if err != nil {
		return nil, db.fail("get user", err)
	}
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String

	return &user, nil
}

func (db *SQLiteDB) UpdateUserFitnessInfo(ctx context.Context, userID int64, level, goals *string) error {
	if level == nil && goals == nil {
		return nil
	}

	query := `
        UPDATE users
        SET fitness_level = COALESCE(?, fitness_level), goals = COALESCE(?, goals)
        WHERE user_id = ?
    `

	var affected int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, nullPtr(level), nullPtr(goals), userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return db.fail("update fitness info", err)
	}
	if affected == 0 {
		return notFound("update fitness info")
	}
	return nil
}

func (db *SQLiteDB) SaveWorkout(ctx context.Context, userID int64, workoutType string, data map[string]any, scheduled *time.Time) (*models.Workout, error) {
	raw, err := encodeWorkoutData(data)
	if err != nil {
		return nil, unavailable("save workout", err)
	}

	w := &models.Workout{
		UserID:        userID,
		WorkoutType:   workoutType,
		Data:          data,
		ScheduledDate: scheduled,
		CreatedAt:     nowUTC(),
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO workouts (user_id, workout_type, workout_data, scheduled_date, created_at) VALUES (?, ?, ?, ?, ?)`,
			userID, workoutType, string(raw), nullTime(scheduled), w.CreatedAt,
		)
		if err != nil {
			return err
		}
		w.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, db.fail("save workout", err)
	}
	return w, nil
}

func (db *SQLiteDB) SaveProgress(ctx context.Context, userID int64, metric string, value float64, date time.Time, notes string) (*models.ProgressEntry, error) {
	p := &models.ProgressEntry{
		UserID:      userID,
		MetricName:  metric,
		MetricValue: value,
		Date:        date,
		Notes:       notes,
		CreatedAt:   nowUTC(),
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO progress (user_id, metric_name, metric_value, date, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			userID, metric, value, date, nullString(notes), p.CreatedAt,
		)
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, db.fail("save progress", err)
	}
	return p, nil
}

func (db *SQLiteDB) GetUserWorkouts(ctx context.Context, userID int64, limit int) ([]models.Workout, error) {
	if limit <= 0 {
		return []models.Workout{}, nil
	}

	query := `
        SELECT id, user_id, workout_type, workout_data, completed, scheduled_date, completed_date, created_at
        FROM workouts
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `

	rows, err := db.conn.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, db.fail("get workouts", err)
	}
	defer rows.Close()

	workouts := make([]models.Workout, 0, limit)
	for rows.Next() {
		var w models.Workout
		var raw string
		var scheduled, completed sql.NullTime
		if err := rows.Scan(&w.ID, &w.UserID, &w.WorkoutType, &raw, &w.Completed, &scheduled, &completed, &w.CreatedAt); err != nil {
			return nil, db.fail("get workouts", err)
		}
		if w.Data, err = decodeWorkoutData([]byte(raw)); err != nil {
			return nil, db.fail("get workouts", err)
		}
		w.ScheduledDate = timePtr(scheduled)
		w.CompletedDate = timePtr(completed)
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get workouts", err)
	}
	return workouts, nil
}

func (db *SQLiteDB) GetUserProgress(ctx context.Context, userID int64, limit int) ([]models.ProgressEntry, error) {
	if limit <= 0 {
		return []models.ProgressEntry{}, nil
	}

	query := `
        SELECT id, user_id, metric_name, metric_value, date, notes, created_at
        FROM progress
        WHERE user_id = ?
        ORDER BY date DESC, id DESC
        LIMIT ?
    `

	rows, err := db.conn.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, db.fail("get progress", err)
	}
	defer rows.Close()

	entries := make([]models.ProgressEntry, 0, limit)
	for rows.Next() {
		var p models.ProgressEntry
		var notes sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.MetricName, &p.MetricValue, &p.Date, &notes, &p.CreatedAt); err != nil {
			return nil, db.fail("get progress", err)
		}
		p.Notes = notes.String
		entries = append(entries, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get progress", err)
	}
	return entries, nil
}

func (db *SQLiteDB) GetChatParticipants(ctx context.Context, chatID int64) ([]models.Participant, error) {
	query := `
        SELECT u.user_id, u.first_name, u.username, u.fitness_level
        FROM users u
        JOIN message_history mh ON u.user_id = mh.user_id
        WHERE mh.chat_id = ? AND u.user_id <> ?
        GROUP BY u.user_id, u.first_name, u.username, u.fitness_level
        ORDER BY MIN(mh.id)
    `

	rows, err := db.conn.QueryContext(ctx, query, chatID, models.BotUserID)
	if err != nil {
		return nil, db.fail("get participants", err)
	}
	defer rows.Close()

	participants := []models.Participant{}
	for rows.Next() {
		var p models.Participant
		var firstName, username sql.NullString
		if err := rows.Scan(&p.UserID, &firstName, &username, &p.FitnessLevel); err != nil {
			return nil, db.fail("get participants", err)
		}
		p.FirstName = firstName.String
		p.Username = username.String
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get participants", err)
	}
	return participants, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func encodeWorkoutData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workout data: %w", err)
	}
	return raw, nil
}

func decodeWorkoutData(raw []byte) (map[string]any, error) {
	data, err := models.DecodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workout data: %w", err)
	}
	return data, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
