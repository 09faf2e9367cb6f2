package util

import (
	"strings"
	"time"
)

// LoadLocation resolves an IANA zone name, falling back to UTC for blank or
// unknown names.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
