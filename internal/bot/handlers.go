package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"fitness-bot/internal/coach"
	"fitness-bot/internal/db"
	"fitness-bot/internal/models"
	"fitness-bot/internal/prompt"
	"fitness-bot/pkg/logger"
)

const (
	msgProfileMissing   = "❌ Сначала настрой профиль командой /profile"
	msgNotGroup         = "👥 Эта команда работает только в групповых чатах!"
	msgNotEnough        = "👥 Нужно минимум 2 участника для групповой тренировки!"
	msgStorageDown      = "⚠️ Не получилось сохранить данные. Попробуй позже."
	msgReplyFailed      = "❌ Извини, не могу сейчас ответить. Попробуй позже."
	msgWorkoutFailed    = "❌ Не удалось сгенерировать план тренировки. Попробуй позже."
	msgGroupFailed      = "❌ Не удалось сгенерировать групповую тренировку. Попробуй позже."
	msgMotivationFailed = "❌ Не удалось сгенерировать мотивацию. Попробуй позже."
	msgAnalysisFailed   = "❌ Анализ тренера сейчас недоступен. Попробуй позже."
	msgBadLevel         = "❌ Такого уровня нет. Выбери один из вариантов:"
	msgUnknownCommand   = "Неизвестная команда. Используй /help, чтобы увидеть список команд."
	msgAskGoals         = "🎯 Напиши свои цели одним сообщением, например: <i>похудеть к лету и пробежать 5 км</i>"
	msgAskProgress      = "📏 Отправь показатель в формате <code>метрика значение [заметка]</code>, например: <code>вес 72.5 после отпуска</code>"
	msgBadProgress      = "❌ Не понял запись. Формат: <code>метрика значение [заметка]</code>, например <code>отжимания 25</code>"
	motivationLabel     = "morning_motivation"
)

// commands is the /help listing, in display order.
var commands = []struct{ name, description string }{
	{"start", "Начать работу с ботом"},
	{"help", "Показать справку по командам"},
	{"profile", "Настроить профиль фитнеса"},
	{"goals", "Указать цели тренировок"},
	{"workout", "Получить план тренировки"},
	{"group_workout", "Групповая тренировка"},
	{"progress", "Отследить прогресс"},
	{"log", "Записать показатель прогресса"},
	{"motivation", "Получить мотивацию"},
	{"stats", "Статистика тренировок"},
}

// request carries one inbound event through the handlers.
type request struct {
	ctx context.Context
	log *logger.Logger
	ev  coach.Event
}

func (r *request) chatID() int64 { return r.ev.ChatID }
func (r *request) userID() int64 { return r.ev.UserID }

// handleCommand processes bot commands
func (t *TelegramBot) handleCommand(req *request, command, args string) {
	req.log.Info("Handling command", "command", command, "user_id", req.userID())

	if err := t.coach.Observe(req.ctx, req.ev); err != nil {
		req.log.Error("Failed to record command", "error", err)
	}
	t.takeState(req.chatID(), req.userID())

	t.runCommand(req, command, args)
}

func (t *TelegramBot) runCommand(req *request, command, args string) {
	switch command {
	case "start":
		t.cmdStart(req)
	case "help":
		t.cmdHelp(req)
	case "profile":
		t.cmdProfile(req)
	case "goals":
		t.cmdGoals(req, args)
	case "workout":
		t.cmdWorkout(req)
	case "group_workout":
		t.cmdGroupWorkout(req)
	case "progress":
		t.cmdProgress(req)
	case "log":
		t.cmdLog(req, args)
	case "motivation":
		t.cmdMotivation(req)
	case "stats":
		t.cmdStats(req)
	default:
		t.sendPlain(req.chatID(), msgUnknownCommand)
	}
}

func (t *TelegramBot) cmdStart(req *request) {
	text := fmt.Sprintf(`🏋️‍♂️ Привет, %s! Я %s!

Я помогу тебе и твоей семье достичь фитнес-целей!

Что я умею:
✅ Составлять индивидуальные и групповые программы тренировок
✅ Отслеживать прогресс каждого участника
✅ Давать мотивирующие советы
✅ Напоминать о тренировках и отдыхе
✅ Адаптировать программы под твой уровень

Используй команду /help для просмотра всех возможностей!

Начни с настройки профиля командой /profile 🎯`, html.EscapeString(req.ev.AuthorName()), html.EscapeString(t.botName))

	t.sendHTML(req.chatID(), text, menuKeyboard())
}

func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📋 Профиль", "profile")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💪 Тренировка", "workout")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("👥 Групповая тренировка", "group_workout")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📊 Прогресс", "progress")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔥 Мотивация", "motivation")),
	)
}

func levelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🟢 Начинающий", "level_"+models.LevelBeginner)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🟡 Средний", "level_"+models.LevelIntermediate)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔴 Продвинутый", "level_"+models.LevelAdvanced)),
	)
}

func (t *TelegramBot) cmdHelp(req *request) {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 <b>%s - Справка по командам</b>\n\n", html.EscapeString(t.botName))
	for _, c := range commands {
		fmt.Fprintf(&b, "/%s - %s\n", c.name, c.description)
	}
	b.WriteString("\n💡 <b>Дополнительно:</b>\n")
	b.WriteString("• Просто напиши мне сообщение, и я отвечу как тренер\n")
	b.WriteString("• Используй кнопки под сообщениями для быстрого доступа\n")
	b.WriteString("• В групповых чатах я помню каждого участника\n")

	t.sendHTML(req.chatID(), b.String(), nil)
}

func (t *TelegramBot) cmdProfile(req *request) {
	user, last, err := t.coach.Profile(req.ctx, req.userID())
	if err != nil {
		t.fail(req, err, msgStorageDown)
		return
	}

	text := formatProfile(user, t.now()) + "\n" + suggestNextWorkout(user, last) +
		"\n\n🔄 <b>Обновить профиль:</b>\nВыбери свой уровень подготовки или задай цели командой /goals"
	t.sendHTML(req.chatID(), text, levelKeyboard())
}

func (t *TelegramBot) cmdGoals(req *request, args string) {
	if strings.TrimSpace(args) == "" {
		t.setState(req.chatID(), req.userID(), StateGoals)
		t.sendHTML(req.chatID(), msgAskGoals, nil)
		return
	}
	t.saveGoals(req, args)
}

func (t *TelegramBot) saveGoals(req *request, goals string) {
	if err := t.coach.SetGoals(req.ctx, req.userID(), goals); err != nil {
		if errors.Is(err, coach.ErrInvalidGoals) {
			t.setState(req.chatID(), req.userID(), StateGoals)
			t.sendHTML(req.chatID(), msgAskGoals, nil)
			return
		}
		t.fail(req, err, msgStorageDown)
		return
	}
	t.sendHTML(req.chatID(), fmt.Sprintf("✅ Цели %s обновлены: <b>%s</b>\n\nТеперь можешь получить план тренировки командой /workout!",
		html.EscapeString(req.ev.AuthorName()), html.EscapeString(strings.TrimSpace(goals))), nil)
}

func (t *TelegramBot) cmdWorkout(req *request) {
	plan, err := t.coach.WorkoutPlan(req.ctx, req.userID())
	if err != nil {
		t.fail(req, err, msgWorkoutFailed)
		return
	}
	t.sendGenerated(req.chatID(), titleWorkout, plan)
}

func (t *TelegramBot) cmdGroupWorkout(req *request) {
	plan, participants, err := t.coach.GroupWorkout(req.ctx, req.ev.Chat())
	if err != nil {
		t.fail(req, err, msgGroupFailed)
		return
	}
	t.sendHTML(req.chatID(), formatGroupSummary(participants, models.WorkoutGroup), nil)
	t.sendGenerated(req.chatID(), titleGroup, plan)
}

func (t *TelegramBot) cmdProgress(req *request) {
	report, err := t.coach.ProgressAnalysis(req.ctx, req.userID())
	if err != nil {
		t.fail(req, err, msgStorageDown)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Прогресс %s</b>\n\n", html.EscapeString(report.User.DisplayName()))
	if len(report.Workouts) > 0 {
		b.WriteString("Последние тренировки:\n")
		b.WriteString(formatWorkoutSchedule(report.Workouts))
	} else {
		b.WriteString("У тебя пока нет тренировок. Начни с команды /workout!\n")
	}
	b.WriteString("\n")
	b.WriteString(formatProgressSummary(report.Entries))
	if len(report.Entries) == 0 {
		b.WriteString("\nЗаписывай показатели командой /log")
	}
	t.sendHTML(req.chatID(), b.String(), nil)

	if report.AnalysisErr != nil {
		req.log.Warn("Progress analysis unavailable", "error", report.AnalysisErr)
		t.sendPlain(req.chatID(), msgAnalysisFailed)
		return
	}
	t.sendGenerated(req.chatID(), titleAnalyze, report.Analysis)
}

func (t *TelegramBot) cmdLog(req *request, args string) {
	if strings.TrimSpace(args) == "" {
		t.setState(req.chatID(), req.userID(), StateProgress)
		t.sendHTML(req.chatID(), msgAskProgress, nil)
		return
	}
	t.saveProgress(req, args)
}

func (t *TelegramBot) saveProgress(req *request, input string) {
	metric, value, notes, err := coach.ParseProgress(input)
	if err != nil {
		t.sendHTML(req.chatID(), msgBadProgress, nil)
		return
	}
	entry, err := t.coach.RecordProgress(req.ctx, req.userID(), metric, value, notes)
	if err != nil {
		if errors.Is(err, coach.ErrInvalidProgress) {
			t.sendHTML(req.chatID(), msgBadProgress, nil)
			return
		}
		t.fail(req, err, msgStorageDown)
		return
	}
	t.sendHTML(req.chatID(), fmt.Sprintf("✅ Записал: <b>%s</b> = %s (%s)",
		html.EscapeString(entry.MetricName), prompt.FormatValue(entry.MetricValue), entry.Date.Format("2006-01-02")), nil)
}

func (t *TelegramBot) cmdMotivation(req *request) {
	text, err := t.coach.Motivation(req.ctx, req.userID(), motivationLabel)
	if err != nil {
		t.fail(req, err, msgMotivationFailed)
		return
	}
	t.sendGenerated(req.chatID(), title{
		single: fmt.Sprintf("🔥 <b>Мотивация для %s:</b>", html.EscapeString(req.ev.AuthorName())),
		part:   "🔥 <b>Мотивация (часть %d/%d)</b>",
	}, text)
}

func (t *TelegramBot) cmdStats(req *request) {
	stats, err := t.coach.Stats(req.ctx, req.userID())
	if err != nil {
		t.fail(req, err, msgStorageDown)
		return
	}
	t.sendHTML(req.chatID(), formatWeeklyStats(stats)+"\n"+motivationalQuote(), nil)
}

// handleMessage answers free text, or consumes it as awaited input.
func (t *TelegramBot) handleMessage(req *request) {
	switch t.takeState(req.chatID(), req.userID()) {
	case StateGoals:
		t.observe(req)
		t.saveGoals(req, req.ev.Text)
		return
	case StateProgress:
		t.observe(req)
		t.saveProgress(req, req.ev.Text)
		return
	}

	answer, err := t.coach.Reply(req.ctx, req.ev)
	if err != nil {
		t.fail(req, err, msgReplyFailed)
		return
	}
	t.sendGenerated(req.chatID(), titleReply, answer)
}

func (t *TelegramBot) observe(req *request) {
	if err := t.coach.Observe(req.ctx, req.ev); err != nil {
		req.log.Error("Failed to record message", "error", err)
	}
}

// handleCallbackQuery processes callback queries from inline keyboards
func (t *TelegramBot) handleCallbackQuery(ctx context.Context, log *logger.Logger, query *tgbotapi.CallbackQuery) {
	log.Info("Received callback query",
		"from", query.From.UserName,
		"data", query.Data)

	if _, err := t.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		log.Warn("Failed to acknowledge callback", "error", err)
	}

	req := &request{ctx: ctx, log: log, ev: eventFrom(query.Message.Chat, query.From, "")}
	if err := t.coach.Observe(ctx, req.ev); err != nil {
		log.Error("Failed to record callback author", "error", err)
	}

	if level, ok := strings.CutPrefix(query.Data, "level_"); ok {
		t.applyLevel(req, query.Message.MessageID, level)
		return
	}

	switch query.Data {
	case "profile", "workout", "group_workout", "progress", "motivation", "stats":
		t.runCommand(req, query.Data, "")
	default:
		log.Warn("Unknown callback data", "data", query.Data)
	}
}

func (t *TelegramBot) applyLevel(req *request, messageID int, level string) {
	if err := t.coach.SetLevel(req.ctx, req.userID(), level); err != nil {
		t.fail(req, err, msgStorageDown)
		return
	}

	text := fmt.Sprintf("✅ Уровень %s обновлен на: <b>%s</b>\n\nТеперь можешь получить план тренировки командой /workout!",
		html.EscapeString(req.ev.AuthorName()), strings.ToLower(levelName(level)))
	edit := tgbotapi.NewEditMessageText(req.chatID(), messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(edit); err != nil {
		req.log.Error("Failed to edit level message", "error", err)
	}
}

// fail maps an operation error to the text the user sees. Generation
// failures get the command's fixed apology.
func (t *TelegramBot) fail(req *request, err error, apology string) {
	switch {
	case errors.Is(err, coach.ErrProfileMissing):
		t.sendPlain(req.chatID(), msgProfileMissing)
	case errors.Is(err, coach.ErrNotGroupChat):
		t.sendPlain(req.chatID(), msgNotGroup)
	case errors.Is(err, coach.ErrNotEnoughParticipants):
		t.sendPlain(req.chatID(), msgNotEnough)
	case errors.Is(err, coach.ErrInvalidLevel):
		req.log.Warn("Rejected fitness level", "error", err)
		t.sendHTML(req.chatID(), msgBadLevel, levelKeyboard())
	case errors.Is(err, db.ErrUnavailable):
		req.log.Error("Storage failure", "error", err)
		t.sendPlain(req.chatID(), msgStorageDown)
	default:
		req.log.Error("Operation failed", "error", err)
		t.sendPlain(req.chatID(), apology)
	}
}
