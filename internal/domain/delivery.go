package domain

import (
	"strings"
	"time"
)

type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
)

var Slots = []Slot{SlotMorning, SlotAfternoon, SlotEvening}

func (s Slot) Valid() bool {
	switch s {
	case SlotMorning, SlotAfternoon, SlotEvening:
		return true
	}
	return false
}

func ParseSlot(v string) (Slot, bool) {
	s := Slot(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// DeliverySelection is what the customer fills in on the delivery step.
// Date is a calendar date in YYYY-MM-DD form.
type DeliverySelection struct {
	Address      string `json:"address"`
	Date         string `json:"date"`
	Slot         Slot   `json:"slot"`
	Instructions string `json:"instructions,omitempty"`
}

const DateLayout = "2006-01-02"

const (
	MinLeadDays        = 1
	MaxLeadDays        = 14
	MaxInstructionsLen = 500
)

// ValidateDelivery checks a delivery selection. The date window is
// tomorrow..today+14 in loc, inclusive on both ends.
func ValidateDelivery(sel DeliverySelection, now time.Time, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	fields := map[string]string{}

	if strings.TrimSpace(sel.Address) == "" {
		fields["address"] = "address is required"
	}

	if strings.TrimSpace(sel.Date) == "" {
		fields["date"] = "delivery date is required"
	} else if d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(sel.Date), loc); err != nil {
		fields["date"] = "delivery date must be YYYY-MM-DD"
	} else {
		first, last := DateWindow(now, loc)
		if d.Before(first) || d.After(last) {
			fields["date"] = "delivery date must be between " + first.Format(DateLayout) + " and " + last.Format(DateLayout)
		}
	}

	if !sel.Slot.Valid() {
		fields["slot"] = "choose morning, afternoon or evening"
	}
	if len([]rune(sel.Instructions)) > MaxInstructionsLen {
		fields["instructions"] = "instructions are too long"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// DateWindow returns the first and last selectable delivery dates at midnight in loc.
func DateWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, MinLeadDays), today.AddDate(0, 0, MaxLeadDays)
}
