package domain

import "errors"

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrNameTooLong   = errors.New("name_too_long")
	ErrInvalidDeity  = errors.New("invalid_deity")
	ErrInvalidPlayer = errors.New("invalid_player")
	ErrInvalidRole   = errors.New("invalid_role")

	ErrReligionNotFound  = errors.New("religion_not_found")
	ErrNameTaken         = errors.New("name_taken")
	ErrPlayerUnknown     = errors.New("player_unknown")
	ErrNotMember         = errors.New("not_member")
	ErrAlreadyMember     = errors.New("already_member")
	ErrAlreadyInReligion = errors.New("already_in_religion")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFounder        = errors.New("not_founder")
	ErrCannotTargetSelf  = errors.New("cannot_target_self")

	ErrBanned            = errors.New("banned")
	ErrNotBanned         = errors.New("not_banned")
	ErrCannotBanFounder  = errors.New("cannot_ban_founder")
	ErrCannotKickFounder = errors.New("cannot_kick_founder")

	ErrInviteNotFound  = errors.New("invite_not_found")
	ErrDuplicateInvite = errors.New("duplicate_invite")

	ErrRoleNotFound  = errors.New("role_not_found")
	ErrRoleProtected = errors.New("role_protected")
	ErrRoleNameTaken = errors.New("role_name_taken")
)

// ValidationError marks caller input mistakes, as opposed to runtime lookup or
// invariant rejections. It unwraps to one of the Err* sentinels above.
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

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
