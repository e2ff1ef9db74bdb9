package auth

import "regexp"

var (
	usernameRegex = regexp.MustCompile(`^\w{3,20}$`)
	passwordRegex = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*()_+=\-]{14,64}$`)
	letterRegex   = regexp.MustCompile(`[A-Za-z]`)
	digitRegex    = regexp.MustCompile(`[0-9]`)
)

// ValidateUsername accepts 3-20 characters of letters, digits and underscore.
func ValidateUsername(username string) bool {
	return usernameRegex.MatchString(username)
}

// ValidatePassword accepts 14-64 characters from letters, digits and
// !@#$%^&*()_+=- and requires at least one letter and one digit.
func ValidatePassword(password string) bool {
	if !passwordRegex.MatchString(password) {
		return false
	}
	return letterRegex.MatchString(password) && digitRegex.MatchString(password)
}
