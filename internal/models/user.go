// internal/models/user.go
package models

import (
	"time"
)

// BotUserID is the reserved author id for messages written by the bot.
const BotUserID int64 = 0

const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"

	DefaultLevel = LevelBeginner
	DefaultGoals = "general_fitness"
)

// ValidLevel reports whether level is one of the known fitness levels.
func ValidLevel(level string) bool {
	switch level {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

type User struct {
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	FitnessLevel string    `json:"fitness_level"`
	Goals        string    `json:"goals"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// DisplayName is the name used when addressing the user in prompts.
func (u *User) DisplayName() string {
	return DisplayName(u.FirstName, u.Username)
}

// DisplayName falls back from first name to username to a generic label.
func DisplayName(firstName, username string) string {
	if firstName != "" {
		return firstName
	}
	if username != "" {
		return username
	}
	return "Пользователь"
}

type Chat struct {
	ChatID    int64     `json:"chat_id"`
	ChatType  string    `json:"chat_type"`
	ChatTitle string    `json:"chat_title"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPrivate reports whether the chat is a one-to-one conversation.
func (c *Chat) IsPrivate() bool {
	return c.ChatType == "private"
}

type Message struct {
	ID          int64     `json:"id"`
	ChatID      int64     `json:"chat_id"`
	UserID      int64     `json:"user_id"`
	MessageText string    `json:"message_text"`
	Timestamp   time.Time `json:"timestamp"`
}

// HistoryEntry is a message joined with its author's display fields.
type HistoryEntry struct {
	Message
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// FromBot reports whether the entry was written by the bot.
func (h *HistoryEntry) FromBot() bool {
	return h.UserID == BotUserID
}

// Participant is a user who has written at least one message in a chat.
type Participant struct {
	UserID       int64  `json:"user_id"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username"`
	FitnessLevel string `json:"fitness_level"`
}

func (p *Participant) DisplayName() string {
	return DisplayName(p.FirstName, p.Username)
}

// Level returns the participant's level, or the default when unset.
func (p *Participant) Level() string {
	if p.FitnessLevel == "" {
		return DefaultLevel
	}
	return p.FitnessLevel
}

type ProgressEntry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	MetricName  string    `json:"metric_name"`
	MetricValue float64   `json:"metric_value"`
	Date        time.Time `json:"date"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}
