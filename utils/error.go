package utils

import (
	"errors"
	"slices"
)

// ErrorIsAnyOf reports whether err matches any of targets, as per errors.Is.
func ErrorIsAnyOf(err error, targets ...error) bool {
	return slices.ContainsFunc(targets, func(target error) bool {
		return errors.Is(err, target)
	})
}
