package domain

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the wire format for slot dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format for slot start times.
	TimeLayout = "15:04"
)

// SlotKey identifies one reservable appointment slot. ResourceID is optional
// (a room or service); when empty the slot is keyed by tenant+date+time only.
// All fields are strings so keys compare with ==.
type SlotKey struct {
	TenantID   string
	Date       string
	Time       string
	ResourceID string
}

// String renders a stable canonical form usable as an external key.
func (k SlotKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.TenantID, k.Date, k.Time, k.ResourceID)
}

// StartsAt parses the slot's calendar position in the given location.
func (k SlotKey) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, k.Date+" "+k.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot %q: %w", k.String(), err)
	}
	return t, nil
}
