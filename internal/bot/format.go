package bot

import (
	"fmt"
	"html"
	"math/rand"
	"sort"
	"strings"
	"time"

	"fitness-bot/internal/coach"
	"fitness-bot/internal/models"
	"fitness-bot/internal/prompt"
)

// randIntN is swapped in tests.
var randIntN = rand.Intn

var levelNames = map[string]string{
	models.LevelBeginner:     "Начинающий",
	models.LevelIntermediate: "Средний",
	models.LevelAdvanced:     "Продвинутый",
}

var levelEmoji = map[string]string{
	models.LevelBeginner:     "🟢",
	models.LevelIntermediate: "🟡",
	models.LevelAdvanced:     "🔴",
}

var levelGroups = map[string]string{
	models.LevelBeginner:     "🟢 Начинающие",
	models.LevelIntermediate: "🟡 Средний уровень",
	models.LevelAdvanced:     "🔴 Продвинутые",
}

var quotes = []string{
	"💪 Каждая тренировка - это шаг к лучшей версии себя",
	"🔥 Сила не в том, чтобы никогда не падать, а в том, чтобы всегда подниматься",
	"🏃‍♂️ Движение - это жизнь, а жизнь - это движение",
	"🌟 Ты сильнее, чем думаешь, и способнее, чем можешь представить",
	"🎯 Цель без плана - это просто желание",
	"💎 Алмаз создается под давлением, а чемпион - в тренировках",
	"🚀 Сегодняшние усилия - это завтрашние результаты",
	"🌈 После каждой бури приходит радуга, после каждой тренировки - сила",
	"⚡ Энергия и настойчивость побеждают все",
	"🎪 Жизнь - это не спринт, а марафон. Тренируйся соответственно",
}

var suggestions = map[string][]string{
	models.LevelBeginner: {
		"🚶‍♂️ Прогулка 30 минут + легкая разминка",
		"🧘‍♀️ Йога для начинающих 20 минут",
		"💪 Базовые отжимания от стены 3x5",
		"🏃‍♂️ Интервальная ходьба 20 минут",
	},
	models.LevelIntermediate: {
		"🏋️‍♂️ Круговая тренировка 45 минут",
		"🚴‍♂️ Велотренажер 30 минут + силовые",
		"🏃‍♂️ Бег 5км + растяжка",
		"💪 Комплекс упражнений с гантелями",
	},
	models.LevelAdvanced: {
		"🔥 HIIT тренировка 40 минут",
		"🏋️‍♂️ Силовая тренировка 60 минут",
		"🏃‍♂️ Бег 10км + скоростные интервалы",
		"💪 Кроссфит комплекс",
	},
}

func motivationalQuote() string {
	return quotes[randIntN(len(quotes))]
}

func levelName(level string) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return html.EscapeString(level)
}

func formatProfile(user *models.User, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 <b>Профиль %s</b>\n\n", html.EscapeString(user.DisplayName()))

	emoji, ok := levelEmoji[user.FitnessLevel]
	if !ok {
		emoji = "⚪"
	}
	fmt.Fprintf(&b, "📊 <b>Уровень подготовки:</b> %s %s\n", emoji, levelName(user.FitnessLevel))

	goals := user.Goals
	if goals == "" {
		goals = "Не указаны"
	}
	fmt.Fprintf(&b, "🎯 <b>Цели:</b> %s\n", html.EscapeString(goals))

	if !user.CreatedAt.IsZero() {
		days := int(now.Sub(user.CreatedAt).Hours() / 24)
		fmt.Fprintf(&b, "📅 <b>В системе:</b> %d дней\n", days)
	}
	return b.String()
}

// suggestNextWorkout picks a session for the user's level and alternates
// cardio and strength after a typed workout.
func suggestNextWorkout(user *models.User, last *models.Workout) string {
	options, ok := suggestions[user.FitnessLevel]
	if !ok {
		options = suggestions[models.LevelBeginner]
	}
	suggestion := options[randIntN(len(options))]

	if last != nil {
		kind := strings.ToLower(last.WorkoutType)
		switch {
		case strings.Contains(kind, "cardio") || strings.Contains(kind, "бег"):
			suggestion = "💪 Силовая тренировка (чередуем с кардио)"
		case strings.Contains(kind, "силовая") || strings.Contains(kind, "strength"):
			suggestion = "🏃‍♂️ Кардио тренировка (чередуем с силовой)"
		}
	}
	return "💡 <b>Предложение на сегодня:</b>\n" + suggestion
}

func formatWorkoutSchedule(workouts []models.Workout) string {
	if len(workouts) == 0 {
		return "📅 У вас пока нет запланированных тренировок"
	}

	var b strings.Builder
	b.WriteString("📅 <b>Расписание тренировок:</b>\n\n")
	for i, w := range workouts {
		status := "⏳"
		if w.Completed {
			status = "✅"
		}
		date := "Не указана"
		if w.ScheduledDate != nil {
			date = w.ScheduledDate.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%d. %s %s - %s\n", i+1, status, html.EscapeString(w.WorkoutType), date)
	}
	return b.String()
}

// formatProgressSummary groups entries by metric, in order of each metric's
// newest entry, and shows the three newest values of each.
func formatProgressSummary(entries []models.ProgressEntry) string {
	if len(entries) == 0 {
		return "📊 У вас пока нет данных о прогрессе"
	}

	sorted := make([]models.ProgressEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].Date.After(sorted[j].Date)
	})

	var order []string
	byMetric := make(map[string][]models.ProgressEntry)
	for _, e := range sorted {
		if _, ok := byMetric[e.MetricName]; !ok {
			order = append(order, e.MetricName)
		}
		byMetric[e.MetricName] = append(byMetric[e.MetricName], e)
	}

	var b strings.Builder
	b.WriteString("📊 <b>Сводка прогресса:</b>\n\n")
	for _, metric := range order {
		fmt.Fprintf(&b, "<b>%s:</b>\n", html.EscapeString(metric))
		items := byMetric[metric]
		if len(items) > 3 {
			items = items[:3]
		}
		for _, e := range items {
			fmt.Fprintf(&b, "  • %s (%s)", prompt.FormatValue(e.MetricValue), e.Date.Format("2006-01-02"))
			if e.Notes != "" {
				b.WriteString(" - " + html.EscapeString(e.Notes))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatWeeklyStats(stats coach.WeeklyStats) string {
	var b strings.Builder
	b.WriteString("📈 <b>Статистика за неделю:</b>\n\n")
	fmt.Fprintf(&b, "🏋️ Всего тренировок: %d\n", stats.Total)
	fmt.Fprintf(&b, "✅ Выполнено: %d\n", stats.Completed)
	fmt.Fprintf(&b, "📊 Процент выполнения: %s%%\n", prompt.FormatValue(stats.CompletionRate))

	if len(stats.ByType) > 0 {
		types := make([]string, 0, len(stats.ByType))
		for k := range stats.ByType {
			types = append(types, k)
		}
		sort.Strings(types)

		b.WriteString("\n<b>По типам:</b>\n")
		for _, k := range types {
			fmt.Fprintf(&b, "• %s: %d\n", html.EscapeString(k), stats.ByType[k])
		}
	}
	return b.String()
}

func formatGroupSummary(participants []models.Participant, workoutType string) string {
	if len(participants) == 0 {
		return "👥 Нет участников для групповой тренировки"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👥 <b>Групповая тренировка: %s</b>\n\n", html.EscapeString(workoutType))
	fmt.Fprintf(&b, "📊 <b>Участники (%d):</b>\n", len(participants))

	var order []string
	names := make(map[string][]string)
	for i := range participants {
		level := participants[i].Level()
		if _, ok := names[level]; !ok {
			order = append(order, level)
		}
		names[level] = append(names[level], html.EscapeString(participants[i].DisplayName()))
	}
	for _, level := range order {
		label, ok := levelGroups[level]
		if !ok {
			label = html.EscapeString(level)
		}
		fmt.Fprintf(&b, "%s: %s\n", label, strings.Join(names[level], ", "))
	}

	b.WriteString("\n🎯 <b>Рекомендации:</b>\n")
	switch n := len(participants); {
	case n == 2:
		b.WriteString("• Идеально для парных упражнений\n")
		b.WriteString("• Взаимная поддержка и мотивация\n")
		b.WriteString("• Можно соревноваться друг с другом\n")
	case n <= 4:
		b.WriteString("• Отличный размер для круговых тренировок\n")
		b.WriteString("• Возможность ротации упражнений\n")
		b.WriteString("• Групповая динамика и веселье\n")
	default:
		b.WriteString("• Разделитесь на подгруппы по уровню\n")
		b.WriteString("• Используйте станции для упражнений\n")
		b.WriteString("• Организуйте командные соревнования\n")
	}
	return b.String()
}
