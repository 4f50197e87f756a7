package db

import (
	"context"
	"fmt"
	"time"

	"fitness-bot/config"
	"fitness-bot/internal/models"
	"fitness-bot/pkg/logger"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresDB is the networked store for multi-instance deployments.
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

func NewPostgresDB(ctx context.Context, cfg config.DBConfig, log *logger.Logger) (*PostgresDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// goose works on database/sql, so migrations get their own short-lived handle.
	sqlDB := stdlib.OpenDB(*poolConfig.ConnConfig)
	defer sqlDB.Close()
	if err := Migrate(ctx, sqlDB, goose.DialectPostgres); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresDB{pool: pool, logger: log}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return db.fail("ping", err)
	}
	return nil
}

func (db *PostgresDB) fail(op string, err error) error {
	if isNoRows(err, pgx.ErrNoRows) {
		return notFound(op)
	}
	db.logger.Error("Storage operation failed", "op", op, "error", err)
	return unavailable(op, err)
}

func (db *PostgresDB) UpsertUser(ctx context.Context, id UserIdentity) error {
	query := `
        INSERT INTO users (user_id, username, first_name, last_name, created_at, last_activity)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (user_id) DO UPDATE
        SET username = EXCLUDED.username, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name
    `

	err := db.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, id.UserID, textOrNil(id.Username), textOrNil(id.FirstName), textOrNil(id.LastName), nowUTC())
		return err
	})
	if err != nil {
		return db.fail("upsert user", err)
	}
	return nil
}

func (db *PostgresDB) UpsertChat(ctx context.Context, chatID int64, chatType, title string) error {
	query := `
        INSERT INTO chats (chat_id, chat_type, chat_title, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (chat_id) DO UPDATE
        SET chat_type = EXCLUDED.chat_type, chat_title = EXCLUDED.chat_title
    `

	err := db.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, chatID, chatType, textOrNil(title), nowUTC())
		return err
	})
	if err != nil {
		return db.fail("upsert chat", err)
	}
	return nil
}

func (db *PostgresDB) AppendMessage(ctx context.Context, chatID, userID int64, text string) (*models.Message, error) {
	msg := &models.Message{ChatID: chatID, UserID: userID, MessageText: text, Timestamp: nowUTC()}

	err := db.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO message_history (chat_id, user_id, message_text, timestamp) VALUES ($1, $2, $3, $4) RETURNING id`,
			chatID, userID, text, msg.Timestamp,
		).Scan(&msg.ID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE users SET last_activity = $2 WHERE user_id = $1`, userID, msg.Timestamp)
		return err
	})
	if err != nil {
		return nil, db.fail("append message", err)
	}
	return msg, nil
}

func (db *PostgresDB) GetHistory(ctx context.Context, chatID int64, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		return []models.HistoryEntry{}, nil
	}

	query := `
        SELECT mh.id, mh.chat_id, mh.user_id, mh.message_text, mh.timestamp, u.first_name, u.username
        FROM message_history mh
        LEFT JOIN users u ON mh.user_id = u.user_id
        WHERE mh.chat_id = $1
        ORDER BY mh.timestamp DESC, mh.id DESC
        LIMIT $2
    `

	rows, err := db.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, db.fail("get history", err)
	}
	defer rows.Close()

	history := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		var e models.HistoryEntry
		var firstName, username *string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.UserID, &e.MessageText, &e.Timestamp, &firstName, &username); err != nil {
			return nil, db.fail("get history", err)
		}
		e.FirstName = deref(firstName)
		e.Username = deref(username)
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get history", err)
	}

	reverse(history)
	return history, nil
}

func (db *PostgresDB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query := `
        SELECT user_id, username, first_name, last_name, fitness_level, goals, created_at, last_activity
        FROM users
        WHERE user_id = $1
    `

	var user models.User
	var username, firstName, lastName *string
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID, &username, &firstName, &lastName,
		&user.FitnessLevel, &user.Goals, &user.CreatedAt, &user.LastActivity,
	)
	if err != nil {
		return nil, db.fail("get user", err)
	}
	user.Username = deref(username)
	user.FirstName = deref(firstName)
	user.LastName = deref(lastName)

	return &user, nil
}

func (db *PostgresDB) UpdateUserFitnessInfo(ctx context.Context, userID int64, level, goals *string) error {
	if level == nil && goals == nil {
		return nil
	}

	query := `
        UPDATE users
        SET fitness_level = COALESCE($2, fitness_level), goals = COALESCE($3, goals)
        WHERE user_id = $1
    `

	var affected int64
	err := db.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, userID, level, goals)
		affected = tag.RowsAffected()
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

func (db *PostgresDB) SaveWorkout(ctx context.Context, userID int64, workoutType string, data map[string]any, scheduled *time.Time) (*models.Workout, error) {
	raw, err := encodeWorkoutData(data)
	if err != nil {
		return nil, unavailable("save workout", err)
	}

	w := &models.Workout{UserID: userID, WorkoutType: workoutType, Data: data, ScheduledDate: scheduled, CreatedAt: nowUTC()}

	err = db.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO workouts (user_id, workout_type, workout_data, scheduled_date, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			userID, workoutType, string(raw), scheduled, w.CreatedAt,
		).Scan(&w.ID)
	})
	if err != nil {
		return nil, db.fail("save workout", err)
	}
	return w, nil
}

func (db *PostgresDB) SaveProgress(ctx context.Context, userID int64, metric string, value float64, date time.Time, notes string) (*models.ProgressEntry, error) {
	p := &models.ProgressEntry{UserID: userID, MetricName: metric, MetricValue: value, Date: date, Notes: notes, CreatedAt: nowUTC()}

	err := db.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO progress (user_id, metric_name, metric_value, date, notes, created_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			userID, metric, value, date, textOrNil(notes), p.CreatedAt,
		).Scan(&p.ID)
	})
	if err != nil {
		return nil, db.fail("save progress", err)
	}
	return p, nil
}

func (db *PostgresDB) GetUserWorkouts(ctx context.Context, userID int64, limit int) ([]models.Workout, error) {
	if limit <= 0 {
		return []models.Workout{}, nil
	}

	query := `
        SELECT id, user_id, workout_type, workout_data, completed, scheduled_date, completed_date, created_at
        FROM workouts
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `

	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, db.fail("get workouts", err)
	}
	defer rows.Close()

	workouts := make([]models.Workout, 0, limit)
	for rows.Next() {
		var w models.Workout
		var raw []byte
		if err := rows.Scan(&w.ID, &w.UserID, &w.WorkoutType, &raw, &w.Completed, &w.ScheduledDate, &w.CompletedDate, &w.CreatedAt); err != nil {
			return nil, db.fail("get workouts", err)
		}
		if w.Data, err = decodeWorkoutData(raw); err != nil {
			return nil, db.fail("get workouts", err)
		}
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get workouts", err)
	}
	return workouts, nil
}

func (db *PostgresDB) GetUserProgress(ctx context.Context, userID int64, limit int) ([]models.ProgressEntry, error) {
	if limit <= 0 {
		return []models.ProgressEntry{}, nil
	}

	query := `
        SELECT id, user_id, metric_name, metric_value, date, notes, created_at
        FROM progress
        WHERE user_id = $1
        ORDER BY date DESC, id DESC
        LIMIT $2
    `

	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, db.fail("get progress", err)
	}
	defer rows.Close()

	entries := make([]models.ProgressEntry, 0, limit)
	for rows.Next() {
		var p models.ProgressEntry
		var notes *string
		if err := rows.Scan(&p.ID, &p.UserID, &p.MetricName, &p.MetricValue, &p.Date, &notes, &p.CreatedAt); err != nil {
			return nil, db.fail("get progress", err)
		}
		p.Notes = deref(notes)
		entries = append(entries, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get progress", err)
	}
	return entries, nil
}

func (db *PostgresDB) GetChatParticipants(ctx context.Context, chatID int64) ([]models.Participant, error) {
	query := `
        SELECT u.user_id, u.first_name, u.username, u.fitness_level
        FROM users u
        JOIN message_history mh ON u.user_id = mh.user_id
        WHERE mh.chat_id = $1 AND u.user_id <> $2
        GROUP BY u.user_id, u.first_name, u.username, u.fitness_level
        ORDER BY MIN(mh.id)
    `

	rows, err := db.pool.Query(ctx, query, chatID, models.BotUserID)
	if err != nil {
		return nil, db.fail("get participants", err)
	}
	defer rows.Close()

	participants := []models.Participant{}
	for rows.Next() {
		var p models.Participant
		var firstName, username *string
		if err := rows.Scan(&p.UserID, &firstName, &username, &p.FitnessLevel); err != nil {
			return nil, db.fail("get participants", err)
		}
		p.FirstName = deref(firstName)
		p.Username = deref(username)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fail("get participants", err)
	}
	return participants, nil
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
