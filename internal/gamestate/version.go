package gamestate

import (
	"errors"
	"strconv"
	"strings"
)

// InitialVersion is the version of a session that has never published state.
const InitialVersion = "0"

var ErrInvalidVersion = errors.New("invalid_version")

// ParseVersion reads a decimal version string. An empty version is 0.
func ParseVersion(v string) (uint64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, ErrInvalidVersion
	}
	return n, nil
}

func FormatVersion(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func NextVersion(current string) (string, error) {
	n, err := ParseVersion(current)
	if err != nil {
		return "", err
	}
	return FormatVersion(n + 1), nil
}

// SameVersion compares numerically so "" and "0" are equal.
func SameVersion(a, b string) bool {
	na, errA := ParseVersion(a)
	nb, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	return na == nb
}

// IsSuccessor reports whether next is exactly one past prev.
func IsSuccessor(prev, next string) bool {
	np, errP := ParseVersion(prev)
	nn, errN := ParseVersion(next)
	if errP != nil || errN != nil {
		return false
	}
	return nn == np+1
}
