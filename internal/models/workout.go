package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	WorkoutIndividual = "individual"
	WorkoutGroup      = "group"
)

// Workout is a generated plan. Data is an opaque JSON object that
// round-trips through storage unchanged.
type Workout struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"user_id"`
	WorkoutType   string         `json:"workout_type"`
	Data          map[string]any `json:"workout_data"`
	Completed     bool           `json:"completed"`
	ScheduledDate *time.Time     `json:"scheduled_date"`
	CompletedDate *time.Time     `json:"completed_date"`
	CreatedAt     time.Time      `json:"created_at"`
}

// WorkoutPayload is the minimal shape written into Workout.Data by the bot.
type WorkoutPayload struct {
	Type         string    `json:"type" validate:"required,oneof=individual group"`
	GeneratedAt  time.Time `json:"generated_at" validate:"required"`
	Level        string    `json:"user_level,omitempty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Goals        string    `json:"goals,omitempty"`
	Participants int       `json:"participants,omitempty" validate:"omitempty,min=2"`
	ChatID       int64     `json:"chat_id,omitempty"`
}

var validate = validator.New()

// Validate checks the payload against its struct tags.
func (p *WorkoutPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid workout payload: %w", err)
	}
	if p.Type == WorkoutGroup && p.Participants == 0 {
		return fmt.Errorf("invalid workout payload: group workout without participants")
	}
	return nil
}

// Map validates the payload and converts it to the generic form stored
// in Workout.Data.
func (p *WorkoutPayload) Map() (map[string]any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workout payload: %w", err)
	}
	out, err := DecodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workout payload: %w", err)
	}
	return out, nil
}

// DecodeData decodes a JSON object into the generic form of Workout.Data.
// Whole numbers become int64 and other numbers float64, so integers keep
// their exact value.
func DecodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	for k, v := range data {
		data[k] = normalizeNumbers(v)
	}
	return data, nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
	}
	return v
}
