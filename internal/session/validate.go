package session

import (
	"fmt"
	"regexp"
)

var accountRegexp = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// ValidateAccount checks that an account id is a plausible phone number
// in international format.
func ValidateAccount(account string) error {
	if !accountRegexp.MatchString(account) {
		return fmt.Errorf("invalid account %q: must match ^\\+?[0-9]{6,15}$", account)
	}
	return nil
}
