package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category classifies a schedule record and selects its display color.
type Category string

const (
	// CategoryLiveBroadcast marks records that drive the auto-start trigger.
	CategoryLiveBroadcast Category = "live-broadcast"
	// CategoryAutoPost marks records for scheduled social posts.
	CategoryAutoPost Category = "auto-post"
	// CategoryImportantEvent marks records flagged as important.
	CategoryImportantEvent Category = "important-event"
	// CategoryOther is the default for unclassified records.
	CategoryOther Category = "other"
)

// Origin records which side authored a schedule record.
type Origin string

const (
	// OriginLocal marks records authored (or edited) through the local dashboard.
	OriginLocal Origin = "local"
	// OriginRemote marks records produced by a reconciliation pass.
	OriginRemote Origin = "remote"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecordID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordID = errors.New("schedule: invalid record id")
	// ErrInvalidCategory indicates an unknown category value.
	ErrInvalidCategory = errors.New("schedule: invalid category")
	// ErrInvalidDate indicates a malformed calendar date.
	ErrInvalidDate = errors.New("schedule: invalid date")
	// ErrInvalidClockTime indicates a malformed wall-clock time.
	ErrInvalidClockTime = errors.New("schedule: invalid clock time")
)

// RecordID represents a validated record identifier.
type RecordID string

// NewRecordID validates raw input and returns a RecordID.
func NewRecordID(rawInput string) (RecordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return RecordID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordID) String() string {
	return string(id)
}

// ParseCategory validates raw input against the known category set.
func ParseCategory(rawInput string) (Category, error) {
	switch Category(strings.TrimSpace(rawInput)) {
	case CategoryLiveBroadcast:
		return CategoryLiveBroadcast, nil
	case CategoryAutoPost:
		return CategoryAutoPost, nil
	case CategoryImportantEvent:
		return CategoryImportantEvent, nil
	case CategoryOther, "":
		return CategoryOther, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, rawInput)
	}
}

// Color returns the fixed display color for the category.
func (c Category) Color() string {
	switch c {
	case CategoryLiveBroadcast:
		return "#e53935"
	case CategoryAutoPost:
		return "#1e88e5"
	case CategoryImportantEvent:
		return "#fbc02d"
	default:
		return "#757575"
	}
}

// Date is a calendar date with no time zone component.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// ParseDate parses a Y-M-D date in the form "2006-01-02".
func ParseDate(rawInput string) (Date, error) {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(rawInput))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, rawInput)
	}
	return Date{Year: parsed.Year(), Month: int(parsed.Month()), Day: parsed.Day()}, nil
}

// String formats the date as "2006-01-02".
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// ClockTime is a wall-clock time with minute precision.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseClockTime parses a wall-clock time in the form "15:04".
func ParseClockTime(rawInput string) (ClockTime, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(rawInput))
	if err != nil {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, rawInput)
	}
	return ClockTime{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// String formats the time as "15:04".
func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Record models a single schedule entry held by the Store.
//
// Records linked to a remote calendar event carry that event's identifier in
// RemoteID. A record with Origin = OriginLocal that also carries a RemoteID is
// a locally edited copy of a remote event and wins over the remote copy during
// reconciliation.
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        Date      `json:"date"`
	StartTime   ClockTime `json:"start_time"`
	EndTime     ClockTime `json:"end_time"`
	Description string    `json:"description,omitempty"`
	Category    Category  `json:"category"`
	RemoteID    string    `json:"remote_id,omitempty"`
	Origin      Origin    `json:"origin"`
}

// StartAt combines the record's date and start time into an instant in loc.
func (r Record) StartAt(loc *time.Location) time.Time {
	return time.Date(r.Date.Year, time.Month(r.Date.Month), r.Date.Day,
		r.StartTime.Hour, r.StartTime.Minute, 0, 0, loc)
}

// EndAt combines the record's date and end time into an instant in loc.
func (r Record) EndAt(loc *time.Location) time.Time {
	return time.Date(r.Date.Year, time.Month(r.Date.Month), r.Date.Day,
		r.EndTime.Hour, r.EndTime.Minute, 0, 0, loc)
}
