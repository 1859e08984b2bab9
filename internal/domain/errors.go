package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrInsufficientBonus is returned when a redemption exceeds the stored balance.
	ErrInsufficientBonus = errors.New("insufficient bonus balance")
	ErrDuplicate         = errors.New("already exists")
)

// ValidationError carries field-level messages for the delivery form.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid delivery: " + strings.Join(parts, "; ")
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
