package server

import (
	"strconv"
	"strings"

	"github.com/smallbiznis/pantheon/internal/deity"
)

const maxListLimit = 500

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt64(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalDeity(value string) (*deity.Deity, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := deity.Parse(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseLimit returns 0 (no limit) when the parameter is absent.
func parseLimit(value string) (int, error) {
	parsed, err := parseOptionalInt64(value)
	if err != nil || parsed == nil {
		return 0, err
	}
	if *parsed <= 0 || *parsed > maxListLimit {
		return 0, errInvalidLimit
	}
	return int(*parsed), nil
}
