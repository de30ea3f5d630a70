package helpers

import (
	"fmt"
	"strings"
)

// NormalizeAddress lowercases and trims an email address for comparison and
// storage. Address matching throughout the system is case-insensitive.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// SplitAddress splits an email address into local part and domain.
func SplitAddress(address string) (localPart, domain string, err error) {
	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid email address: %s", address)
	}
	return parts[0], parts[1], nil
}
