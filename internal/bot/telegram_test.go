package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"fitness-bot/config"
	"fitness-bot/internal/cache"
	"fitness-bot/internal/coach"
	"fitness-bot/internal/db"
	"fitness-bot/internal/gpt"
	"fitness-bot/internal/prompt"
	"fitness-bot/pkg/logger"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts returns the text of every sent message and edit, in order.
func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.requests = nil
}

type stubCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []prompt.Prompt
}

func (s *stubCompleter) Complete(_ context.Context, p prompt.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	return s.reply, s.err
}

type harness struct {
	bot    *TelegramBot
	sender *fakeSender
	llm    *stubCompleter
	store  db.Store
}

func newHarness(t *testing.T, maxLength int) *harness {
	t.Helper()
	store, err := db.NewSQLiteDB(context.Background(), ":memory:", logger.NewNop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(store.Close)

	cfg := config.BotConfig{
		Name:             "Тренер",
		Persona:          "PERSONA",
		HistoryWindow:    20,
		MaxMessageLength: maxLength,
		QueueIdleTimeout: time.Second,
	}
	llm := &stubCompleter{reply: "Готово!"}
	svc := coach.NewService(store, prompt.NewAssembler(cfg), llm, logger.NewNop())
	sender := &fakeSender{}

	return &harness{
		bot:    newBot(sender, svc, cache.NewMemoryDeduper(time.Hour), cfg, logger.NewNop()),
		sender: sender,
		llm:    llm,
		store:  store,
	}
}

var (
	family  = &tgbotapi.Chat{ID: -100500, Type: "group", Title: "Семья"}
	userA   = &tgbotapi.User{ID: 1, FirstName: "Анна", UserName: "anna"}
	userB   = &tgbotapi.User{ID: 2, FirstName: "Иван"}
	updates = 0
)

func textUpdate(chat *tgbotapi.Chat, from *tgbotapi.User, text string) tgbotapi.Update {
	updates++
	msg := &tgbotapi.Message{MessageID: updates, From: from, Chat: chat, Text: text}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: updates, Message: msg}
}

func callbackUpdate(chat *tgbotapi.Chat, from *tgbotapi.User, data string) tgbotapi.Update {
	updates++
	return tgbotapi.Update{
		UpdateID: updates,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    from,
			Message: &tgbotapi.Message{MessageID: 77, Chat: chat},
			Data:    data,
		},
	}
}

func (h *harness) handle(u tgbotapi.Update) {
	h.bot.handleUpdate(context.Background(), u)
}

func containsText(texts []string, sub string) bool {
	for _, s := range texts {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestGroupWorkoutFlow(t *testing.T) {
	h := newHarness(t, 4096)
	h.llm.reply = "Разминка, приседания, растяжка"

	h.handle(textUpdate(family, userA, "/start"))
	if !containsText(h.sender.texts(), "Привет, Анна!") {
		t.Fatalf("welcome not sent: %v", h.sender.texts())
	}

	h.handle(callbackUpdate(family, userA, "level_intermediate"))
	if len(h.sender.requests) != 1 {
		t.Errorf("callback not acknowledged")
	}
	if !containsText(h.sender.texts(), "обновлен на: <b>средний</b>") {
		t.Errorf("level edit not sent: %v", h.sender.texts())
	}

	h.handle(textUpdate(family, userB, "Привет всем!"))
	h.sender.reset()

	h.handle(textUpdate(family, userA, "/group_workout"))

	last := h.llm.prompts[len(h.llm.prompts)-1].Turns[1].Content
	annaAt := strings.Index(last, "- Анна (уровень: intermediate)")
	ivanAt := strings.Index(last, "- Иван (уровень: beginner)")
	if annaAt < 0 || ivanAt < 0 || annaAt > ivanAt {
		t.Errorf("group prompt participants wrong:\n%s", last)
	}

	texts := h.sender.texts()
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want summary and plan: %v", len(texts), texts)
	}
	if !strings.Contains(texts[0], "Участники (2)") || !strings.Contains(texts[0], "Идеально для парных упражнений") {
		t.Errorf("summary = %q", texts[0])
	}
	if !strings.HasPrefix(texts[1], "👥 <b>Групповая тренировка для всех:</b>") || !strings.HasSuffix(texts[1], "Разминка, приседания, растяжка") {
		t.Errorf("plan = %q", texts[1])
	}
}

func TestWorkout_ProviderFailureShowsApology(t *testing.T) {
	h := newHarness(t, 4096)
	h.llm.err = &gpt.Error{Kind: gpt.ErrBadStatus, StatusCode: 500, Err: errors.New("boom")}

	h.handle(textUpdate(family, userA, "/workout"))

	texts := h.sender.texts()
	if len(texts) != 1 || texts[0] != msgWorkoutFailed {
		t.Fatalf("texts = %v, want the fixed apology", texts)
	}
	workouts, err := h.store.GetUserWorkouts(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(workouts) != 0 {
		t.Errorf("workout stored after failed generation: %+v", workouts)
	}
}

func TestGroupWorkout_Preconditions(t *testing.T) {
	h := newHarness(t, 4096)
	private := &tgbotapi.Chat{ID: 1, Type: "private"}

	h.handle(textUpdate(private, userA, "/group_workout"))
	h.handle(textUpdate(family, userA, "/group_workout"))

	texts := h.sender.texts()
	if len(texts) != 2 || texts[0] != msgNotGroup || texts[1] != msgNotEnough {
		t.Errorf("texts = %v", texts)
	}
	if len(h.llm.prompts) != 0 {
		t.Error("provider called")
	}
}

func TestFreeText_ReplyIsEscapedAndRecorded(t *testing.T) {
	h := newHarness(t, 4096)
	h.llm.reply = "Используй <гантели> & пей воду"

	h.handle(textUpdate(family, userA, "Что делать?"))

	texts := h.sender.texts()
	if len(texts) != 1 {
		t.Fatalf("texts = %v", texts)
	}
	want := "💬 <b>Ответ тренера:</b>\n\nИспользуй &lt;гантели&gt; &amp; пей воду"
	if texts[0] != want {
		t.Errorf("reply = %q, want %q", texts[0], want)
	}

	history, _ := h.store.GetHistory(context.Background(), family.ID, 10)
	if len(history) != 2 || !history[1].FromBot() || history[1].MessageText != h.llm.reply {
		t.Errorf("history = %+v", history)
	}
}

func TestFreeText_FailureApologizes(t *testing.T) {
	h := newHarness(t, 4096)
	h.llm.err = &gpt.Error{Kind: gpt.ErrTimeout}

	h.handle(textUpdate(family, userA, "Привет"))

	if texts := h.sender.texts(); len(texts) != 1 || texts[0] != msgReplyFailed {
		t.Errorf("texts = %v", texts)
	}
}

func TestLongReplyIsSplitIntoNumberedParts(t *testing.T) {
	h := newHarness(t, 300)
	h.llm.reply = strings.Repeat("Отжимания 3x10. ", 40)

	h.handle(textUpdate(family, userA, "/workout"))

	texts := h.sender.texts()
	if len(texts) < 2 {
		t.Fatalf("expected several parts, got %d", len(texts))
	}
	var body strings.Builder
	for i, text := range texts {
		if n := utf8.RuneCountInString(text); n > 300 {
			t.Errorf("part %d has %d runes", i+1, n)
		}
		header := "📋 <b>План тренировки (часть " + strconv.Itoa(i+1) + "/" + strconv.Itoa(len(texts)) + ")</b>\n\n"
		if !strings.HasPrefix(text, header) {
			t.Errorf("part %d header = %q", i+1, text[:min(len(text), 60)])
		}
		body.WriteString(strings.TrimPrefix(text, header))
	}
	if body.String() != h.llm.reply {
		t.Error("parts do not reassemble into the reply")
	}
}

func TestLogAndGoals_AwaitInput(t *testing.T) {
	h := newHarness(t, 4096)

	h.handle(textUpdate(family, userA, "/log"))
	h.handle(textUpdate(family, userA, "вес 72,5 после отпуска"))
	h.handle(textUpdate(family, userA, "/goals"))
	h.handle(textUpdate(family, userA, "пробежать 5 км"))
	h.handle(textUpdate(family, userA, "/log отжимания 25"))
	h.handle(textUpdate(family, userA, "/log отжимания много"))

	texts := h.sender.texts()
	want := []string{
		msgAskProgress,
		"✅ Записал: <b>вес</b> = 72.5",
		msgAskGoals,
		"✅ Цели Анна обновлены: <b>пробежать 5 км</b>",
		"✅ Записал: <b>отжимания</b> = 25",
		msgBadProgress,
	}
	if len(texts) != len(want) {
		t.Fatalf("texts = %v", texts)
	}
	for i, w := range want {
		if !strings.HasPrefix(texts[i], w) {
			t.Errorf("message %d = %q, want prefix %q", i, texts[i], w)
		}
	}
	if len(h.llm.prompts) != 0 {
		t.Error("awaited input was sent to the provider")
	}

	ctx := context.Background()
	user, _ := h.store.GetUser(ctx, 1)
	if user.Goals != "пробежать 5 км" {
		t.Errorf("goals = %q", user.Goals)
	}
	entries, _ := h.store.GetUserProgress(ctx, 1, 10)
	if len(entries) != 2 || entries[1].Notes != "после отпуска" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestCommandClearsAwaitedInput(t *testing.T) {
	h := newHarness(t, 4096)

	h.handle(textUpdate(family, userA, "/goals"))
	h.handle(textUpdate(family, userA, "/help"))
	h.handle(textUpdate(family, userA, "просто вопрос"))

	if len(h.llm.prompts) != 1 {
		t.Errorf("free text after a command should go to the provider")
	}
}

func TestProgressAndStats(t *testing.T) {
	h := newHarness(t, 4096)
	h.llm.reply = "Хорошая динамика"
	prev := randIntN
	randIntN = func(int) int { return 0 }
	t.Cleanup(func() { randIntN = prev })

	h.handle(textUpdate(family, userA, "/workout"))
	h.handle(textUpdate(family, userA, "/log вес 70"))
	h.sender.reset()

	h.handle(textUpdate(family, userA, "/progress"))
	texts := h.sender.texts()
	if len(texts) != 2 {
		t.Fatalf("texts = %v", texts)
	}
	for _, want := range []string{"📊 <b>Прогресс Анна</b>", "1. ⏳ individual - Не указана", "<b>вес:</b>", "  • 70 ("} {
		if !strings.Contains(texts[0], want) {
			t.Errorf("progress text missing %q:\n%s", want, texts[0])
		}
	}
	if !strings.HasSuffix(texts[1], "Хорошая динамика") {
		t.Errorf("analysis = %q", texts[1])
	}

	h.sender.reset()
	h.handle(textUpdate(family, userA, "/stats"))
	texts = h.sender.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Всего тренировок: 1") || !strings.HasSuffix(texts[0], quotes[0]) {
		t.Errorf("stats = %v", texts)
	}
}

func TestMenuCallbackRunsCommand(t *testing.T) {
	h := newHarness(t, 4096)
	h.llm.reply = "Ты справишься!"

	h.handle(callbackUpdate(family, userB, "motivation"))

	texts := h.sender.texts()
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "🔥 <b>Мотивация для Иван:</b>") {
		t.Errorf("texts = %v", texts)
	}
	if len(h.sender.requests) != 1 {
		t.Error("callback not acknowledged")
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, 4096)
	h.handle(textUpdate(family, userA, "/dance"))
	if texts := h.sender.texts(); len(texts) != 1 || texts[0] != msgUnknownCommand {
		t.Errorf("texts = %v", texts)
	}
}

func TestEnqueue_SkipsRedeliveredUpdates(t *testing.T) {
	h := newHarness(t, 4096)
	ctx := context.Background()

	u := textUpdate(family, userA, "/help")
	h.bot.enqueue(ctx, u)
	h.bot.enqueue(ctx, u)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.bot.queue.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}

	if n := len(h.sender.texts()); n != 1 {
		t.Errorf("help sent %d times, want 1", n)
	}
}

func TestStop_DrainsQueuedUpdatesAfterPollingStops(t *testing.T) {
	h := newHarness(t, 4096)
	h.llm.reply = "Привет, Анна!"

	pollCtx, cancelPoll := context.WithCancel(context.Background())

	// Hold the chat's worker so the update is still queued when polling stops.
	release := make(chan struct{})
	h.bot.queue.Submit(family.ID, func() { <-release })
	h.bot.enqueue(pollCtx, textUpdate(family, userA, "Привет"))

	cancelPoll()
	close(release)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.bot.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	texts := h.sender.texts()
	if !containsText(texts, "Привет, Анна!") {
		t.Errorf("queued update not answered, sent %q", texts)
	}
	if containsText(texts, "Попробуй позже") {
		t.Errorf("queued update failed during drain, sent %q", texts)
	}
	h.llm.mu.Lock()
	calls := len(h.llm.prompts)
	h.llm.mu.Unlock()
	if calls != 1 {
		t.Errorf("completer called %d times, want 1", calls)
	}

	history, err := h.store.GetHistory(context.Background(), family.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history = %+v, want inbound and reply", history)
	}
}

func TestStop_CancelsWorkAfterDeadline(t *testing.T) {
	h := newHarness(t, 4096)

	started := make(chan struct{})
	var workErr error
	done := make(chan struct{})
	h.bot.queue.Submit(family.ID, func() {
		close(started)
		<-h.bot.work.Done()
		workErr = h.bot.work.Err()
		close(done)
	})
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.bot.Stop(stopCtx); err == nil {
		t.Error("Stop returned nil while a job was still running")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("running job was not cancelled after the deadline")
	}
	if !errors.Is(workErr, context.Canceled) {
		t.Errorf("work context error = %v", workErr)
	}
}

func TestLevelCallback_UnknownLevelShowsKeyboardAgain(t *testing.T) {
	h := newHarness(t, 4096)

	h.handle(callbackUpdate(family, userA, "level_pro"))

	if len(h.sender.requests) != 1 {
		t.Error("callback not acknowledged")
	}
	h.sender.mu.Lock()
	sent := append([]tgbotapi.Chattable(nil), h.sender.sent...)
	h.sender.mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	msg, ok := sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.Text != msgBadLevel {
		t.Fatalf("reply = %#v", sent[0])
	}
	if _, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Errorf("level keyboard not attached: %#v", msg.ReplyMarkup)
	}

	user, err := h.store.GetUser(context.Background(), userA.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.FitnessLevel != "beginner" {
		t.Errorf("level = %q, want unchanged beginner", user.FitnessLevel)
	}
}
