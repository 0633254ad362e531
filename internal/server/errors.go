package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	civdomain "github.com/smallbiznis/pantheon/internal/civilization/domain"
	religiondomain "github.com/smallbiznis/pantheon/internal/religion/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")

	errInvalidLimit = errors.New("invalid_limit")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err, code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger; it reuses the response mapping.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, "internal_error"
	}
	if err == nil {
		return payload.Type, ""
	}
	return payload.Type, validationErrorCode(err)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, errInvalidLimit),
		religiondomain.IsValidation(err),
		civdomain.IsValidation(err):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, religiondomain.ErrForbidden),
		errors.Is(err, religiondomain.ErrNotFounder),
		errors.Is(err, civdomain.ErrNotReligionFounder),
		errors.Is(err, civdomain.ErrNotAnchorFounder):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, religiondomain.ErrNameTaken),
		errors.Is(err, religiondomain.ErrAlreadyMember),
		errors.Is(err, religiondomain.ErrAlreadyInReligion),
		errors.Is(err, religiondomain.ErrBanned),
		errors.Is(err, religiondomain.ErrDuplicateInvite),
		errors.Is(err, civdomain.ErrNameTaken),
		errors.Is(err, civdomain.ErrAlreadyInCivilization),
		errors.Is(err, civdomain.ErrCivilizationFull),
		errors.Is(err, civdomain.ErrDeityTaken),
		errors.Is(err, civdomain.ErrDuplicateInvite):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, religiondomain.ErrReligionNotFound),
		errors.Is(err, religiondomain.ErrNotMember),
		errors.Is(err, religiondomain.ErrInviteNotFound),
		errors.Is(err, religiondomain.ErrRoleNotFound),
		errors.Is(err, civdomain.ErrCivilizationNotFound),
		errors.Is(err, civdomain.ErrReligionNotFound),
		errors.Is(err, civdomain.ErrInviteNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	var rErr *religiondomain.ValidationError
	if errors.As(err, &rErr) && rErr.Err != nil {
		return rErr.Err.Error()
	}
	var cErr *civdomain.ValidationError
	if errors.As(err, &cErr) && cErr.Err != nil {
		return cErr.Err.Error()
	}
	return err.Error()
}

func validationErrorField(err error, code string) string {
	var rErr *religiondomain.ValidationError
	if errors.As(err, &rErr) && rErr.Field != "" {
		return rErr.Field
	}
	var cErr *civdomain.ValidationError
	if errors.As(err, &cErr) && cErr.Field != "" {
		return cErr.Field
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_limit":
		return "limit must be between 1 and 500"
	default:
		return "invalid value"
	}
}
