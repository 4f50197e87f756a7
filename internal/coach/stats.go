package coach

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"fitness-bot/internal/models"
)

type WeeklyStats struct {
	Total     int
	Completed int
	// CompletionRate is a percentage rounded to one decimal.
	CompletionRate float64
	ByType         map[string]int
}

func ComputeWeeklyStats(workouts []models.Workout) WeeklyStats {
	stats := WeeklyStats{ByType: make(map[string]int)}
	if len(workouts) == 0 {
		return stats
	}

	stats.Total = len(workouts)
	for _, w := range workouts {
		if w.Completed {
			stats.Completed++
		}
		stats.ByType[w.WorkoutType]++
	}
	rate := float64(stats.Completed) / float64(stats.Total) * 100
	stats.CompletionRate = math.Round(rate*10) / 10

	return stats
}

// ParseProgress reads "<metric> <value> [notes...]". A comma is accepted
// as the decimal separator.
func ParseProgress(input string) (metric string, value float64, notes string, err error) {
	fields := strings.Fields(input)
	if len(fields) < 2 {
		return "", 0, "", fmt.Errorf("%w: expected \"<metric> <value> [notes]\"", ErrInvalidProgress)
	}

	value, err = strconv.ParseFloat(strings.ReplaceAll(fields[1], ",", "."), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return "", 0, "", fmt.Errorf("%w: %q is not a number", ErrInvalidProgress, fields[1])
	}

	return fields[0], value, strings.Join(fields[2:], " "), nil
}
