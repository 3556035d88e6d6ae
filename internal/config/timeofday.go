package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const timeOfDayLayout = "15:04:05"

// TimeOfDay is a wall-clock time in UTC, written as HH:MM:SS
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses an HH:MM:SS string
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day must be HH:MM:SS, got %q", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// String returns the HH:MM:SS form
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the instant at this time of day on the UTC calendar day of d
func (t TimeOfDay) On(d time.Time) time.Time {
	d = d.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, t.Second, 0, time.UTC)
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (t TimeOfDay) MarshalYAML() (any, error) {
	return t.String(), nil
}
