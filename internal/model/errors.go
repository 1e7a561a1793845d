package model

import (
	"errors"
	"fmt"
)

var (
	// ErrCampaignNotFound is returned when a campaign does not exist.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrInvalidToken is returned when no match exists for a confirmation token.
	ErrInvalidToken = errors.New("invalid confirmation token")

	// ErrExpired is returned when the match expired before confirmation.
	ErrExpired = errors.New("match expired")

	// ErrCampaignCanceled is returned when the match belongs to a canceled campaign.
	ErrCampaignCanceled = errors.New("campaign canceled")

	// ErrNoRemainingDoses is returned when every dose was already confirmed.
	ErrNoRemainingDoses = errors.New("no remaining doses")

	// ErrAlreadyConfirmed is returned to the loser of a race for the last dose.
	ErrAlreadyConfirmed = errors.New("dose already confirmed by another match")
)

// ValidationError reports malformed campaign parameters.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ReasonFor maps a confirmation rejection to the reason recorded on the match.
func ReasonFor(err error) (FailureReason, bool) {
	switch {
	case errors.Is(err, ErrExpired):
		return ReasonExpired, true
	case errors.Is(err, ErrCampaignCanceled):
		return ReasonCampaignCanceled, true
	case errors.Is(err, ErrNoRemainingDoses):
		return ReasonNoRemainingDoses, true
	case errors.Is(err, ErrAlreadyConfirmed):
		return ReasonAlreadyConfirmed, true
	}
	return "", false
}

// IsRejection reports whether err is an expected confirmation outcome rather
// than an infrastructure failure.
func IsRejection(err error) bool {
	if errors.Is(err, ErrInvalidToken) {
		return true
	}
	_, ok := ReasonFor(err)
	return ok
}
