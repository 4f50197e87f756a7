package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fitness-bot/config"
	"fitness-bot/internal/models"
	"fitness-bot/pkg/logger"
)

// Store is the only writer of users, chats, message history, workouts and
// progress. Every method returns an *Error classified as ErrNotFound or
// ErrUnavailable on failure.
type Store interface {
	// UpsertUser inserts the user with default fitness fields, or patches
	// only the identity columns of an existing row.
	UpsertUser(ctx context.Context, id UserIdentity) error
	// UpsertChat inserts the chat or refreshes its type and title.
	UpsertChat(ctx context.Context, chatID int64, chatType, title string) error
	// AppendMessage records a message and bumps the author's last activity
	// in one transaction.
	AppendMessage(ctx context.Context, chatID, userID int64, text string) (*models.Message, error)
	// GetHistory returns the last limit messages of a chat, oldest first.
	GetHistory(ctx context.Context, chatID int64, limit int) ([]models.HistoryEntry, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	// UpdateUserFitnessInfo patches level and/or goals. With both nil it
	// does nothing.
	UpdateUserFitnessInfo(ctx context.Context, userID int64, level, goals *string) error
	SaveWorkout(ctx context.Context, userID int64, workoutType string, data map[string]any, scheduled *time.Time) (*models.Workout, error)
	SaveProgress(ctx context.Context, userID int64, metric string, value float64, date time.Time, notes string) (*models.ProgressEntry, error)
	// GetUserWorkouts returns the newest limit workouts, newest first.
	GetUserWorkouts(ctx context.Context, userID int64, limit int) ([]models.Workout, error)
	// GetUserProgress returns the newest limit progress entries, newest first.
	GetUserProgress(ctx context.Context, userID int64, limit int) ([]models.ProgressEntry, error)
	// GetChatParticipants returns every user who wrote in the chat, in order
	// of their first message. The bot is never a participant.
	GetChatParticipants(ctx context.Context, chatID int64) ([]models.Participant, error)
	Ping(ctx context.Context) error
	Close()
}

// UserIdentity holds the fields the chat surface knows about a user.
type UserIdentity struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, cfg config.DBConfig, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "", config.DriverSQLite:
		return NewSQLiteDB(ctx, cfg.Path, log)
	case config.DriverPostgres:
		return NewPostgresDB(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// OpenWithRetry calls Open up to attempts times with a linear backoff.
func OpenWithRetry(ctx context.Context, cfg config.DBConfig, log *logger.Logger, attempts int) (Store, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		store, err := Open(ctx, cfg, log)
		if err == nil {
			return store, nil
		}
		lastErr = err
		log.Error("Failed to connect to database, retrying...", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, lastErr)
}

// nowUTC is replaced in tests that need deterministic timestamps.
var nowUTC = func() time.Time { return time.Now().UTC() }

func isNoRows(err error, noRows ...error) bool {
	for _, target := range noRows {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
