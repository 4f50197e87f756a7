// Package prompt assembles the turns sent to the completion provider.
//
// Every builder is a pure function of its inputs: it never reads storage
// and never talks to the provider. The first turn of every Prompt is the
// persona/instruction turn.
package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fitness-bot/config"
	"fitness-bot/internal/models"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ProgressWindow is how many recent progress entries go into an analysis.
const ProgressWindow = 5

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Prompt struct {
	Turns []Turn `json:"turns"`
}

// Task names which builder produced a prompt. Used in logs.
type Task string

const (
	TaskChatReply        Task = "chat_reply"
	TaskWorkoutPlan      Task = "workout_plan"
	TaskGroupWorkout     Task = "group_workout"
	TaskMotivation       Task = "motivation"
	TaskProgressAnalysis Task = "progress_analysis"
)

type Assembler struct {
	persona string
	botName string
	window  int
}

func NewAssembler(cfg config.BotConfig) *Assembler {
	persona := cfg.Persona
	if persona == "" {
		persona = config.DefaultPersona
	}
	return &Assembler{
		persona: strings.TrimSpace(persona),
		botName: cfg.Name,
		window:  cfg.HistoryWindow,
	}
}

// Window is the number of prior messages a chat reply may include.
func (a *Assembler) Window() int {
	return a.window
}

// ChatReply builds a free-form reply prompt. history must be in
// chronological order; only its newest Window() entries are used.
func (a *Assembler) ChatReply(participants []models.Participant, history []models.HistoryEntry, authorName, text string) Prompt {
	if len(history) > a.window {
		history = history[len(history)-a.window:]
	}

	turns := make([]Turn, 0, len(history)+2)
	turns = append(turns, Turn{Role: RoleSystem, Content: a.chatInstruction(participants)})
	for i := range history {
		turns = append(turns, Turn{Role: RoleUser, Content: a.speaker(&history[i]) + ": " + history[i].MessageText})
	}
	turns = append(turns, Turn{Role: RoleUser, Content: authorName + ": " + text})

	return Prompt{Turns: turns}
}

func (a *Assembler) chatInstruction(participants []models.Participant) string {
	var b strings.Builder
	b.WriteString(a.persona)

	if len(participants) > 0 {
		b.WriteString("\n\nИнформация о пользователях в чате:\n")
		for i := range participants {
			fmt.Fprintf(&b, "- %s: уровень подготовки - %s\n", participants[i].DisplayName(), participants[i].Level())
		}
	}

	b.WriteString("\nПомни контекст разговора и используй имена пользователей!")
	return b.String()
}

func (a *Assembler) speaker(h *models.HistoryEntry) string {
	if h.FromBot() {
		return a.botName
	}
	return models.DisplayName(h.FirstName, h.Username)
}

// WorkoutPlan builds an individual plan request for user.
func (a *Assembler) WorkoutPlan(user *models.User) Prompt {
	name, level, goals := profile(user)

	instruction := fmt.Sprintf(`Составь детальный план тренировки для %s.

Уровень подготовки: %s
Цели: %s
Тип тренировки: %s

Включи:
- Разминку (5-10 минут)
- Основную часть тренировки
- Заминку (5-10 минут)
- Рекомендации по технике
- Продолжительность каждого упражнения
- Количество подходов и повторений

Будь мотивирующим и учитывай уровень подготовки!`, name, level, goals, models.WorkoutIndividual)

	return a.single(instruction)
}

// GroupWorkout builds a shared plan request for every participant.
func (a *Assembler) GroupWorkout(participants []models.Participant) Prompt {
	lines := make([]string, 0, len(participants))
	for i := range participants {
		lines = append(lines, fmt.Sprintf("- %s (уровень: %s)", participants[i].DisplayName(), participants[i].Level()))
	}

	instruction := fmt.Sprintf(`Составь план групповой тренировки для следующих пользователей:
%s

Тип тренировки: %s

Учти:
- Разные уровни подготовки участников
- Возможность адаптации упражнений
- Взаимную поддержку и мотивацию
- Веселую и дружескую атмосферу

Включи:
- Разминку для всех
- Основные упражнения с вариантами сложности
- Групповые элементы
- Заминку
- Рекомендации по взаимодействию

Сделай тренировку интересной для всех участников!`, strings.Join(lines, "\n"), models.WorkoutGroup)

	return a.single(instruction)
}

// Motivation builds a short personal message request. label names the
// moment it is for, e.g. "morning_motivation" or "post_workout".
func (a *Assembler) Motivation(user *models.User, label string) Prompt {
	name, level, _ := profile(user)
	if label == "" {
		label = "general"
	}

	instruction := fmt.Sprintf(`Напиши короткое мотивирующее сообщение для %s.

Контекст: %s
Уровень подготовки: %s

Сообщение должно быть:
- Персонализированным для %s
- Мотивирующим и вдохновляющим
- Соответствующим контексту
- Дружелюбным и поддерживающим

Используй имя пользователя и сделай сообщение личным!`, name, label, level, name)

	return a.single(instruction)
}

// ProgressAnalysis builds an assessment request over the newest
// ProgressWindow entries, or an encouragement to start tracking when there
// are none. Entries may come in any order.
func (a *Assembler) ProgressAnalysis(user *models.User, entries []models.ProgressEntry) Prompt {
	name, _, _ := profile(user)

	if len(entries) == 0 {
		instruction := fmt.Sprintf(`%s еще не начал отслеживать свой прогресс.
Напиши мотивирующее сообщение о важности отслеживания прогресса
и предложи начать с простых метрик.`, name)
		return a.single(instruction)
	}

	recent := RecentProgress(entries, ProgressWindow)
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", e.MetricName, FormatValue(e.MetricValue), e.Date.Format("2006-01-02")))
	}

	instruction := fmt.Sprintf(`Проанализируй прогресс %s:

%s

Дай:
- Оценку прогресса
- Рекомендации по улучшению
- Мотивирующие слова
- Следующие шаги

Будь поддерживающим и конструктивным!`, name, strings.Join(lines, "\n"))

	return a.single(instruction)
}

func (a *Assembler) single(instruction string) Prompt {
	return Prompt{Turns: []Turn{
		{Role: RoleSystem, Content: a.persona},
		{Role: RoleUser, Content: instruction},
	}}
}

// RecentProgress returns the newest n entries ordered oldest first.
func RecentProgress(entries []models.ProgressEntry, n int) []models.ProgressEntry {
	sorted := make([]models.ProgressEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Date.Before(sorted[j].Date)
	})
	if len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

// FormatValue prints a metric without trailing zeros.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func profile(user *models.User) (name, level, goals string) {
	if user == nil {
		return models.DisplayName("", ""), models.DefaultLevel, models.DefaultGoals
	}
	name = user.DisplayName()
	level = user.FitnessLevel
	if level == "" {
		level = models.DefaultLevel
	}
	goals = user.Goals
	if goals == "" {
		goals = models.DefaultGoals
	}
	return name, level, goals
}
