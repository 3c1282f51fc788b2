package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError means an adapter produced a response that breaks the normalized model.
// It is an adapter bug: never retried, never persisted.
type ValidationError struct {
	CarrierCode    string
	TrackingNumber string
	Problems       []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tracking response from %s for %s: %s",
		e.CarrierCode, e.TrackingNumber, strings.Join(e.Problems, "; "))
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("tracking_status", func(fl validator.FieldLevel) bool {
			return TrackingStatus(fl.Field().String()).Valid()
		})
	})
	return validate
}

// ValidateResponse checks required fields, enum values and newest-first ordering.
// Ordering means no event is newer than the one before it: vendors report several scans
// within one second, so equal timestamps are accepted and keep vendor order.
func ValidateResponse(r *TrackingResponse) error {
	if r == nil {
		return &ValidationError{Problems: []string{"response is nil"}}
	}
	verr := &ValidationError{CarrierCode: r.CarrierCode, TrackingNumber: r.TrackingNumber}

	if err := validatorInstance().Struct(r); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				verr.Problems = append(verr.Problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			verr.Problems = append(verr.Problems, err.Error())
		}
	}

	for i := 1; i < len(r.Events); i++ {
		if r.Events[i].Timestamp.After(r.Events[i-1].Timestamp) {
			verr.Problems = append(verr.Problems, fmt.Sprintf("events[%d] is newer than events[%d]", i, i-1))
			break
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// SortNewestFirst orders events by timestamp, newest first. Ties keep vendor order.
func SortNewestFirst(events []TrackingEventData) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
