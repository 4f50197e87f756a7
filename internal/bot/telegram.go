package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"fitness-bot/config"
	"fitness-bot/internal/cache"
	"fitness-bot/internal/coach"
	"fitness-bot/internal/models"
	"fitness-bot/pkg/logger"
)

// Sender is the part of the Telegram API the handlers use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Coach is the service the handlers drive.
type Coach interface {
	Observe(ctx context.Context, ev coach.Event) error
	Reply(ctx context.Context, ev coach.Event) (string, error)
	Profile(ctx context.Context, userID int64) (*models.User, *models.Workout, error)
	WorkoutPlan(ctx context.Context, userID int64) (string, error)
	GroupWorkout(ctx context.Context, chat models.Chat) (string, []models.Participant, error)
	Motivation(ctx context.Context, userID int64, label string) (string, error)
	ProgressAnalysis(ctx context.Context, userID int64) (*coach.ProgressReport, error)
	SetLevel(ctx context.Context, userID int64, level string) error
	SetGoals(ctx context.Context, userID int64, goals string) error
	RecordProgress(ctx context.Context, userID int64, metric string, value float64, notes string) (*models.ProgressEntry, error)
	Stats(ctx context.Context, userID int64) (coach.WeeklyStats, error)
}

// Awaited free-text inputs.
const (
	StateGoals    = "goals"
	StateProgress = "progress"
)

type stateKey struct {
	chatID int64
	userID int64
}

type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	api        Sender
	coach      Coach
	dedup      cache.Deduper
	logger     *logger.Logger
	queue      *chatQueue
	botName    string
	maxLength  int
	userStates map[stateKey]string
	stateMutex sync.Mutex
	now        func() time.Time

	// work is the context queued updates are processed with. It outlives
	// the polling context and is cancelled by Stop once the queue drained
	// or the shutdown deadline passed.
	work       context.Context
	cancelWork context.CancelFunc
}

func NewTelegramBot(cfg *config.Config, svc Coach, dedup cache.Deduper, logger *logger.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	bot.Debug = cfg.Telegram.Debug

	logger.Info("Authorized on Telegram", "username", bot.Self.UserName)

	t := newBot(bot, svc, dedup, cfg.Bot, logger)
	t.bot = bot
	return t, nil
}

func newBot(api Sender, svc Coach, dedup cache.Deduper, cfg config.BotConfig, logger *logger.Logger) *TelegramBot {
	maxLength := cfg.MaxMessageLength
	if maxLength <= headerReserve {
		maxLength = 4096
	}
	work, cancelWork := context.WithCancel(context.Background())
	return &TelegramBot{
		work:       work,
		cancelWork: cancelWork,
		api:        api,
		coach:      svc,
		dedup:      dedup,
		logger:     logger,
		queue:      newChatQueue(cfg.QueueIdleTimeout),
		botName:    cfg.Name,
		maxLength:  maxLength,
		userStates: make(map[stateKey]string),
		now:        time.Now,
	}
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context, pollTimeout int) error {
	t.logger.Info("Removing any existing webhook")
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: false,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeout

	updates := t.bot.GetUpdatesChan(updateConfig)

	t.logger.Info("Started receiving Telegram updates")

	t.handleUpdates(ctx, updates)
	return nil
}

// handleUpdates routes every update to its chat's queue until the channel
// closes or ctx is done.
func (t *TelegramBot) handleUpdates(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.enqueue(ctx, update)
		}
	}
}

func (t *TelegramBot) enqueue(ctx context.Context, update tgbotapi.Update) {
	chatID, ok := updateChatID(update)
	if !ok {
		t.logger.Debug("Ignoring update without chat", "update_id", update.UpdateID)
		return
	}

	if t.dedup != nil {
		first, err := t.dedup.FirstSeen(ctx, update.UpdateID)
		if err != nil {
			t.logger.Warn("Update deduplication failed", "update_id", update.UpdateID, "error", err)
		} else if !first {
			t.logger.Info("Skipping redelivered update", "update_id", update.UpdateID)
			return
		}
	}

	if !t.queue.Submit(chatID, func() { t.handleUpdate(t.work, update) }) {
		t.logger.Warn("Dropping update received during shutdown", "update_id", update.UpdateID)
	}
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil && update.Message.From != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	}
	return 0, false
}

// handleUpdate processes one update. It runs on the chat's worker.
func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	log := t.logger.With("request_id", uuid.NewString(), "update_id", update.UpdateID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic while processing update", "error", r)
		}
	}()

	switch {
	case update.Message != nil:
		msg := update.Message
		log.Info("Received message",
			"chat_id", msg.Chat.ID,
			"from", msg.From.UserName,
			"command", msg.Command())

		if msg.Text == "" {
			return
		}
		req := &request{ctx: ctx, log: log, ev: eventFrom(msg.Chat, msg.From, msg.Text)}
		if msg.IsCommand() {
			t.handleCommand(req, msg.Command(), msg.CommandArguments())
		} else {
			t.handleMessage(req)
		}

	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, log, update.CallbackQuery)
	}
}

func eventFrom(chat *tgbotapi.Chat, from *tgbotapi.User, text string) coach.Event {
	return coach.Event{
		ChatID:    chat.ID,
		ChatType:  chat.Type,
		ChatTitle: chat.Title,
		UserID:    from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Text:      text,
	}
}

func (t *TelegramBot) setState(chatID, userID int64, state string) {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	t.userStates[stateKey{chatID, userID}] = state
}

// takeState returns and clears the awaited input for the user in the chat.
func (t *TelegramBot) takeState(chatID, userID int64) string {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	key := stateKey{chatID, userID}
	state := t.userStates[key]
	delete(t.userStates, key)
	return state
}

// Stop gracefully shuts down the bot
func (t *TelegramBot) Stop(ctx context.Context) error {
	defer t.cancelWork()

	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	if err := t.queue.Wait(ctx); err != nil {
		return fmt.Errorf("chat workers did not finish: %w", err)
	}
	if t.dedup != nil {
		if err := t.dedup.Close(); err != nil {
			t.logger.Warn("Failed to close deduper", "error", err)
		}
	}
	return nil
}
