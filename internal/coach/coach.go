// Package coach ties storage, prompt assembly and the completion provider
// into the operations the chat surface exposes.
package coach

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fitness-bot/internal/db"
	"fitness-bot/internal/models"
	"fitness-bot/internal/prompt"
	"fitness-bot/pkg/logger"
)

var (
	ErrProfileMissing        = errors.New("user profile not found")
	ErrNotGroupChat          = errors.New("command works only in group chats")
	ErrNotEnoughParticipants = errors.New("group workout needs at least 2 participants")
	ErrInvalidLevel          = errors.New("unknown fitness level")
	ErrInvalidGoals          = errors.New("goals must not be empty")
	ErrInvalidProgress       = errors.New("invalid progress entry")
)

const (
	// MinGroupSize is the smallest chat a group workout is generated for.
	MinGroupSize = 2

	recentWorkouts  = 5
	progressHistory = 50
	statsScan       = 200
	statsPeriod     = 7 * 24 * time.Hour
)

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, p prompt.Prompt) (string, error)
}

// Event is one inbound text with the identity of its author and chat.
type Event struct {
	ChatID    int64
	ChatType  string
	ChatTitle string
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Text      string
}

func (e Event) AuthorName() string {
	return models.DisplayName(e.FirstName, e.Username)
}

func (e Event) Chat() models.Chat {
	return models.Chat{ChatID: e.ChatID, ChatType: e.ChatType, ChatTitle: e.ChatTitle}
}

type Service struct {
	store     db.Store
	assembler *prompt.Assembler
	llm       Completer
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(store db.Store, assembler *prompt.Assembler, llm Completer, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		assembler: assembler,
		llm:       llm,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) identify(ctx context.Context, ev Event) error {
	if err := s.store.UpsertUser(ctx, db.UserIdentity{
		UserID:    ev.UserID,
		Username:  ev.Username,
		FirstName: ev.FirstName,
		LastName:  ev.LastName,
	}); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if err := s.store.UpsertChat(ctx, ev.ChatID, ev.ChatType, ev.ChatTitle); err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}
	return nil
}

// Observe records an inbound text without answering it. Commands go
// through here so their authors count as chat participants.
func (s *Service) Observe(ctx context.Context, ev Event) error {
	if err := s.identify(ctx, ev); err != nil {
		return err
	}
	if strings.TrimSpace(ev.Text) == "" {
		return nil
	}
	if _, err := s.store.AppendMessage(ctx, ev.ChatID, ev.UserID, ev.Text); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Reply answers a free-form message using the chat's recent history. The
// inbound message is recorded even when generation fails; the reply is
// recorded only on success.
func (s *Service) Reply(ctx context.Context, ev Event) (string, error) {
	if err := s.identify(ctx, ev); err != nil {
		return "", err
	}

	history, err := s.store.GetHistory(ctx, ev.ChatID, s.assembler.Window())
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	if _, err := s.store.AppendMessage(ctx, ev.ChatID, ev.UserID, ev.Text); err != nil {
		return "", fmt.Errorf("failed to save message: %w", err)
	}

	participants, err := s.store.GetChatParticipants(ctx, ev.ChatID)
	if err != nil {
		return "", fmt.Errorf("failed to load participants: %w", err)
	}

	p := s.assembler.ChatReply(participants, history, ev.AuthorName(), ev.Text)
	answer, err := s.complete(ctx, prompt.TaskChatReply, p)
	if err != nil {
		return "", err
	}

	if _, err := s.store.AppendMessage(ctx, ev.ChatID, models.BotUserID, answer); err != nil {
		s.logger.Error("Failed to save bot reply", "chat_id", ev.ChatID, "error", err)
	}
	return answer, nil
}

// Profile returns the stored user and their latest workout, if any.
func (s *Service) Profile(ctx context.Context, userID int64) (*models.User, *models.Workout, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	workouts, err := s.store.GetUserWorkouts(ctx, userID, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workouts: %w", err)
	}
	if len(workouts) == 0 {
		return user, nil, nil
	}
	return user, &workouts[0], nil
}

// WorkoutPlan generates an individual plan and stores a workout record
// for it. Nothing is stored when generation fails.
func (s *Service) WorkoutPlan(ctx context.Context, userID int64) (string, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return "", err
	}

	plan, err := s.complete(ctx, prompt.TaskWorkoutPlan, s.assembler.WorkoutPlan(user))
	if err != nil {
		return "", err
	}

	payload := models.WorkoutPayload{
		Type:        models.WorkoutIndividual,
		GeneratedAt: s.now(),
		Level:       user.FitnessLevel,
		Goals:       user.Goals,
	}
	s.saveWorkout(ctx, userID, &payload)

	return plan, nil
}

// GroupWorkout generates one plan for everyone who has written in the
// chat and stores a group workout record for each of them.
func (s *Service) GroupWorkout(ctx context.Context, chat models.Chat) (string, []models.Participant, error) {
	if chat.IsPrivate() {
		return "", nil, ErrNotGroupChat
	}

	participants, err := s.store.GetChatParticipants(ctx, chat.ChatID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load participants: %w", err)
	}
	if len(participants) < MinGroupSize {
		return "", participants, ErrNotEnoughParticipants
	}

	plan, err := s.complete(ctx, prompt.TaskGroupWorkout, s.assembler.GroupWorkout(participants))
	if err != nil {
		return "", participants, err
	}

	payload := models.WorkoutPayload{
		Type:         models.WorkoutGroup,
		GeneratedAt:  s.now(),
		Participants: len(participants),
		ChatID:       chat.ChatID,
	}
	for _, p := range participants {
		s.saveWorkout(ctx, p.UserID, &payload)
	}

	return plan, participants, nil
}

func (s *Service) saveWorkout(ctx context.Context, userID int64, payload *models.WorkoutPayload) {
	data, err := payload.Map()
	if err != nil {
		s.logger.Error("Workout payload rejected", "user_id", userID, "type", payload.Type, "error", err)
		return
	}
	if _, err := s.store.SaveWorkout(ctx, userID, payload.Type, data, nil); err != nil {
		s.logger.Error("Failed to save workout", "user_id", userID, "type", payload.Type, "error", err)
	}
}

func (s *Service) Motivation(ctx context.Context, userID int64, label string) (string, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.complete(ctx, prompt.TaskMotivation, s.assembler.Motivation(user, label))
}

// ProgressReport is what the progress command shows.
type ProgressReport struct {
	User     *models.User
	Workouts []models.Workout
	Entries  []models.ProgressEntry
	// Analysis is empty when generation failed; AnalysisErr says why.
	Analysis    string
	AnalysisErr error
}

// ProgressAnalysis collects recent workouts and progress entries and asks
// the provider to assess them. A generation failure does not fail the
// report.
func (s *Service) ProgressAnalysis(ctx context.Context, userID int64) (*ProgressReport, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	workouts, err := s.store.GetUserWorkouts(ctx, userID, recentWorkouts)
	if err != nil {
		return nil, fmt.Errorf("failed to load workouts: %w", err)
	}
	entries, err := s.store.GetUserProgress(ctx, userID, progressHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	report := &ProgressReport{User: user, Workouts: workouts, Entries: entries}
	report.Analysis, report.AnalysisErr = s.complete(ctx, prompt.TaskProgressAnalysis, s.assembler.ProgressAnalysis(user, entries))

	return report, nil
}

func (s *Service) SetLevel(ctx context.Context, userID int64, level string) error {
	if !models.ValidLevel(level) {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	return s.updateFitness(ctx, userID, &level, nil)
}

func (s *Service) SetGoals(ctx context.Context, userID int64, goals string) error {
	goals = strings.TrimSpace(goals)
	if goals == "" {
		return ErrInvalidGoals
	}
	return s.updateFitness(ctx, userID, nil, &goals)
}

func (s *Service) updateFitness(ctx context.Context, userID int64, level, goals *string) error {
	err := s.store.UpdateUserFitnessInfo(ctx, userID, level, goals)
	if errors.Is(err, db.ErrNotFound) {
		return ErrProfileMissing
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// RecordProgress stores one measurement dated today.
func (s *Service) RecordProgress(ctx context.Context, userID int64, metric string, value float64, notes string) (*models.ProgressEntry, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return nil, fmt.Errorf("%w: empty metric name", ErrInvalidProgress)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: value is not a number", ErrInvalidProgress)
	}

	today := s.now().Truncate(24 * time.Hour)
	entry, err := s.store.SaveProgress(ctx, userID, metric, value, today, strings.TrimSpace(notes))
	if errors.Is(err, db.ErrUnavailable) {
		if _, uerr := s.store.GetUser(ctx, userID); errors.Is(uerr, db.ErrNotFound) {
			return nil, ErrProfileMissing
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save progress: %w", err)
	}
	return entry, nil
}

// Stats summarizes the user's workouts created in the last seven days.
func (s *Service) Stats(ctx context.Context, userID int64) (WeeklyStats, error) {
	if _, err := s.user(ctx, userID); err != nil {
		return WeeklyStats{}, err
	}
	workouts, err := s.store.GetUserWorkouts(ctx, userID, statsScan)
	if err != nil {
		return WeeklyStats{}, fmt.Errorf("failed to load workouts: %w", err)
	}

	since := s.now().Add(-statsPeriod)
	var week []models.Workout
	for _, w := range workouts {
		if !w.CreatedAt.Before(since) {
			week = append(week, w)
		}
	}
	return ComputeWeeklyStats(week), nil
}

func (s *Service) user(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrProfileMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *Service) complete(ctx context.Context, task prompt.Task, p prompt.Prompt) (string, error) {
	text, err := s.llm.Complete(ctx, p)
	if err != nil {
		s.logger.Warn("Generation failed", "task", task, "error", err)
		return "", fmt.Errorf("failed to generate %s: %w", task, err)
	}
	return text, nil
}
