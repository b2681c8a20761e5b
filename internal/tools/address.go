package tools

import (
	"net/url"
	"strings"
)

// StripPassword hides URL password to log address safely.
func StripPassword(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	if pass, ok := u.User.Password(); ok {
		return strings.Replace(u.String(), ":"+pass+"@", ":***@", 1)
	}
	return u.String()
}
