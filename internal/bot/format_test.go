package bot

import (
	"strings"
	"testing"
	"time"

	"fitness-bot/internal/coach"
	"fitness-bot/internal/models"
)

func fixRand(t *testing.T, n int) {
	t.Helper()
	prev := randIntN
	randIntN = func(int) int { return n }
	t.Cleanup(func() { randIntN = prev })
}

func TestFormatProfile(t *testing.T) {
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	user := &models.User{
		FirstName:    "Анна",
		FitnessLevel: models.LevelIntermediate,
		Goals:        "бег <5 км>",
		CreatedAt:    now.Add(-10 * 24 * time.Hour),
	}

	got := formatProfile(user, now)
	for _, want := range []string{
		"👤 <b>Профиль Анна</b>",
		"🟡 Средний",
		"🎯 <b>Цели:</b> бег &lt;5 км&gt;",
		"📅 <b>В системе:</b> 10 дней",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("profile missing %q:\n%s", want, got)
		}
	}

	odd := formatProfile(&models.User{Username: "x", FitnessLevel: "pro"}, now)
	if !strings.Contains(odd, "⚪ pro") || strings.Contains(odd, "В системе") {
		t.Errorf("unknown level profile:\n%s", odd)
	}
}

func TestSuggestNextWorkout(t *testing.T) {
	fixRand(t, 1)

	got := suggestNextWorkout(&models.User{FitnessLevel: models.LevelAdvanced}, nil)
	if !strings.HasSuffix(got, suggestions[models.LevelAdvanced][1]) {
		t.Errorf("suggestion = %q", got)
	}

	got = suggestNextWorkout(&models.User{FitnessLevel: "unknown"}, nil)
	if !strings.HasSuffix(got, suggestions[models.LevelBeginner][1]) {
		t.Errorf("unknown level should fall back to beginner: %q", got)
	}

	got = suggestNextWorkout(&models.User{}, &models.Workout{WorkoutType: "Cardio"})
	if !strings.HasSuffix(got, "Силовая тренировка (чередуем с кардио)") {
		t.Errorf("after cardio = %q", got)
	}
	got = suggestNextWorkout(&models.User{}, &models.Workout{WorkoutType: "strength"})
	if !strings.HasSuffix(got, "Кардио тренировка (чередуем с силовой)") {
		t.Errorf("after strength = %q", got)
	}
}

func TestFormatWorkoutSchedule(t *testing.T) {
	if got := formatWorkoutSchedule(nil); got != "📅 У вас пока нет запланированных тренировок" {
		t.Errorf("empty = %q", got)
	}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	got := formatWorkoutSchedule([]models.Workout{
		{WorkoutType: models.WorkoutGroup, Completed: true, ScheduledDate: &day},
		{WorkoutType: models.WorkoutIndividual},
	})
	if !strings.Contains(got, "1. ✅ group - 2026-03-02\n") || !strings.Contains(got, "2. ⏳ individual - Не указана\n") {
		t.Errorf("schedule:\n%s", got)
	}
}

func TestFormatProgressSummary(t *testing.T) {
	if got := formatProgressSummary(nil); got != "📊 У вас пока нет данных о прогрессе" {
		t.Errorf("empty = %q", got)
	}

	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	entries := []models.ProgressEntry{
		{ID: 1, MetricName: "вес", MetricValue: 75, Date: day(1)},
		{ID: 2, MetricName: "вес", MetricValue: 74.5, Date: day(2)},
		{ID: 3, MetricName: "отжимания", MetricValue: 20, Date: day(2), Notes: "утром"},
		{ID: 4, MetricName: "вес", MetricValue: 74, Date: day(3)},
		{ID: 5, MetricName: "вес", MetricValue: 73.5, Date: day(4)},
	}

	got := formatProgressSummary(entries)
	if strings.Contains(got, "• 75 (") {
		t.Error("more than three values shown for a metric")
	}
	if !strings.Contains(got, "  • 73.5 (2026-03-04)\n  • 74 (2026-03-03)\n  • 74.5 (2026-03-02)\n") {
		t.Errorf("weight values not newest first:\n%s", got)
	}
	if !strings.Contains(got, "  • 20 (2026-03-02) - утром\n") {
		t.Errorf("notes missing:\n%s", got)
	}
	if strings.Index(got, "<b>вес:</b>") > strings.Index(got, "<b>отжимания:</b>") {
		t.Error("metric with the newest entry should come first")
	}
}

func TestFormatWeeklyStats(t *testing.T) {
	got := formatWeeklyStats(coach.WeeklyStats{
		Total:          3,
		Completed:      2,
		CompletionRate: 66.7,
		ByType:         map[string]int{"individual": 2, "group": 1},
	})
	for _, want := range []string{"Всего тренировок: 3", "Выполнено: 2", "Процент выполнения: 66.7%", "• group: 1\n• individual: 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("stats missing %q:\n%s", want, got)
		}
	}

	empty := formatWeeklyStats(coach.ComputeWeeklyStats(nil))
	if strings.Contains(empty, "По типам") || !strings.Contains(empty, "Процент выполнения: 0%") {
		t.Errorf("empty stats:\n%s", empty)
	}
}

func TestFormatGroupSummary(t *testing.T) {
	if got := formatGroupSummary(nil, "group"); got != "👥 Нет участников для групповой тренировки" {
		t.Errorf("empty = %q", got)
	}

	participants := []models.Participant{
		{UserID: 1, FirstName: "Анна", FitnessLevel: models.LevelIntermediate},
		{UserID: 2, FirstName: "Иван"},
		{UserID: 3, Username: "petya", FitnessLevel: models.LevelBeginner},
	}
	got := formatGroupSummary(participants, "group")
	for _, want := range []string{
		"Участники (3)",
		"🟡 Средний уровень: Анна\n",
		"🟢 Начинающие: Иван, petya\n",
		"Отличный размер для круговых тренировок",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}

	many := make([]models.Participant, 6)
	if got := formatGroupSummary(many, "group"); !strings.Contains(got, "Разделитесь на подгруппы") {
		t.Errorf("large group advice missing:\n%s", got)
	}
}

func TestMotivationalQuote(t *testing.T) {
	fixRand(t, 4)
	if got := motivationalQuote(); got != quotes[4] {
		t.Errorf("quote = %q", got)
	}
}
