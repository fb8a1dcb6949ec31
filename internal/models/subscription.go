package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Subscription statuses. A subscription is created pending, becomes active once
// the payment gateway confirms, and ends up inactive (terminal). Cancelled
// records still grant access until their end date.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusInactive  = "inactive"
)

// Subscription represents one subscription attempt/period for an email address.
// Multiple pending or inactive records may exist per email as history; at most
// one record may be active or cancelled at any time.
type Subscription struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	SubscriptionType string     `json:"subscription_type" db:"subscription_type"`
	Status           string     `json:"status" db:"status"`
	Duration         Duration   `json:"duration" db:"duration"`
	SubscribedAt     time.Time  `json:"subscribed_at" db:"subscribed_at"`
	StartDate        time.Time  `json:"start_date" db:"start_date"`
	EndDate          *time.Time `json:"end_date" db:"end_date"`
}

// HasAccess reports whether the record currently grants access. Cancelled
// subscriptions keep access until the expiry sweep flips them inactive.
func (s *Subscription) HasAccess() bool {
	return s.Status == StatusActive || s.Status == StatusCancelled
}

// IsExpiredAt reports whether the record's period has lapsed at the given time.
func (s *Subscription) IsExpiredAt(now time.Time) bool {
	return s.EndDate != nil && s.EndDate.Before(now)
}

// DurationUnit is the calendar unit of a subscription period.
type DurationUnit string

const (
	UnitDay   DurationUnit = "day"
	UnitMonth DurationUnit = "month"
	UnitYear  DurationUnit = "year"
)

// Duration is a normalized subscription period. Legacy records stored the
// period either as a bare number of months or as free text like "3 months";
// both forms are normalized here at the model boundary, and anything
// unparseable is rejected outright instead of silently producing a zero period.
type Duration struct {
	Magnitude int          `json:"magnitude"`
	Unit      DurationUnit `json:"unit"`
}

// ParseDuration normalizes a raw duration value. Accepted forms: a bare
// integer (treated as months) or "<n> <unit>" where unit contains "day",
// "month" or "year", e.g. "14 days", "1 month", "2 years".
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Duration{}, fmt.Errorf("duration is empty")
	}

	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return Duration{}, fmt.Errorf("duration magnitude must be positive, got %d", n)
		}
		return Duration{Magnitude: n, Unit: UnitMonth}, nil
	}

	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return Duration{}, fmt.Errorf("unparseable duration %q", raw)
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return Duration{}, fmt.Errorf("unparseable duration magnitude %q", fields[0])
	}
	if n <= 0 {
		return Duration{}, fmt.Errorf("duration magnitude must be positive, got %d", n)
	}

	unitWord := strings.ToLower(fields[1])
	var unit DurationUnit
	switch {
	case strings.Contains(unitWord, string(UnitDay)):
		unit = UnitDay
	case strings.Contains(unitWord, string(UnitMonth)):
		unit = UnitMonth
	case strings.Contains(unitWord, string(UnitYear)):
		unit = UnitYear
	default:
		return Duration{}, fmt.Errorf("unknown duration unit %q", fields[1])
	}

	return Duration{Magnitude: n, Unit: unit}, nil
}

// AddTo returns start advanced by the duration.
func (d Duration) AddTo(start time.Time) time.Time {
	switch d.Unit {
	case UnitDay:
		return start.AddDate(0, 0, d.Magnitude)
	case UnitYear:
		return start.AddDate(d.Magnitude, 0, 0)
	default:
		return start.AddDate(0, d.Magnitude, 0)
	}
}

func (d Duration) String() string {
	unit := string(d.Unit)
	if d.Magnitude != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", d.Magnitude, unit)
}

// UnmarshalJSON accepts either the normalized object form, a bare number of
// months, or a legacy free-text string. The object form is held to the same
// standard as ParseDuration: a positive magnitude and a known unit.
func (d *Duration) UnmarshalJSON(data []byte) error {
	type normalized Duration
	var obj normalized
	if err := json.Unmarshal(data, &obj); err == nil && obj.Magnitude != 0 {
		if obj.Magnitude < 0 {
			return fmt.Errorf("duration magnitude must be positive, got %d", obj.Magnitude)
		}
		if obj.Unit == "" {
			obj.Unit = UnitMonth
		}
		switch DurationUnit(obj.Unit) {
		case UnitDay, UnitMonth, UnitYear:
		default:
			return fmt.Errorf("unknown duration unit %q", obj.Unit)
		}
		*d = Duration(obj)
		return nil
	}

	var num int
	if err := json.Unmarshal(data, &num); err == nil {
		parsed, perr := ParseDuration(strconv.Itoa(num))
		if perr != nil {
			return perr
		}
		*d = parsed
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("duration must be a number, string or object: %w", err)
	}
	parsed, err := ParseDuration(str)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
