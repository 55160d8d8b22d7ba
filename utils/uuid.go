package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a new unique identifier string
func GenerateID() string {
	return uuid.New().String()
}

// DeterministicID derives a stable identifier from parts, so a retried
// write produces the same ID as the first attempt
func DeterministicID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, ":"))).String()
}
