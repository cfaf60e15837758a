package util

import (
	"regexp"
)

var digitsRegex = regexp.MustCompile(`^[0-9]+$`)

func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	return digitsRegex.MatchString(s)
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
