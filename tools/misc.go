package tools

import (
	"errors"
	"math/rand"
	"os"
	"strings"

	"github.com/modfin/henry/slicez"
)

func DomainOfEmail(address string) (string, error) {
	parts := strings.Split(address, "@")
	if len(parts) < 2 {
		return "", errors.New("no domain was present in email address")
	}
	return slicez.Nth(parts, -1), nil
}

// NormalizeEmail is the canonical form addresses are deduplicated and
// ledger-keyed under.
func NormalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

var letterRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890")

func RandStringRunes(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}
