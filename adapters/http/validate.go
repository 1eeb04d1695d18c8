package authhttp

import (
	"errors"
	"regexp"
	"strings"

	"github.com/open-rails/profilekit/roles"
)

const (
	usernameMinLen = 4
	usernameMaxLen = 30
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// reservedUsernames cannot be registered through the API. "admin" belongs to the
// deployment bootstrap account.
var reservedUsernames = map[string]bool{
	roles.Admin: true,
	"moderator": true,
	"root":      true,
	"support":   true,
}

// validateUsername returns an error whose message is the API error code.
func validateUsername(username string) error {
	username = strings.TrimSpace(username)
	switch {
	case len(username) < usernameMinLen:
		return errors.New("username_too_short")
	case len(username) > usernameMaxLen:
		return errors.New("username_too_long")
	case strings.ContainsRune(username, '@'):
		return errors.New("username_cannot_contain_at")
	case !isASCIILetter(username[0]):
		return errors.New("username_must_start_with_letter")
	case !usernamePattern.MatchString(username):
		return errors.New("username_invalid_characters")
	case reservedUsernames[strings.ToLower(username)]:
		return errors.New("username_reserved")
	}
	return nil
}

func isASCIILetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }
