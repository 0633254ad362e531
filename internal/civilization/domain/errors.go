package domain

import "errors"

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrNameTooShort  = errors.New("name_too_short")
	ErrNameTooLong   = errors.New("name_too_long")
	ErrInvalidPlayer = errors.New("invalid_player")

	ErrCivilizationNotFound  = errors.New("civilization_not_found")
	ErrReligionNotFound      = errors.New("religion_not_found")
	ErrNameTaken             = errors.New("name_taken")
	ErrNotReligionFounder    = errors.New("not_religion_founder")
	ErrNotAnchorFounder      = errors.New("not_anchor_founder")
	ErrAlreadyInCivilization = errors.New("already_in_civilization")
	ErrNotInCivilization     = errors.New("not_in_civilization")
	ErrCivilizationFull      = errors.New("civilization_full")
	ErrDeityTaken            = errors.New("deity_taken")
	ErrAnchorCannotLeave     = errors.New("anchor_cannot_leave")
	ErrCannotKickAnchor      = errors.New("cannot_kick_anchor")

	ErrInviteNotFound  = errors.New("invite_not_found")
	ErrDuplicateInvite = errors.New("duplicate_invite")
)

// ValidationError marks bad caller input. It unwraps to one of the sentinels above.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
