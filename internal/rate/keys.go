package rate

import "strings"

const (
	loginUserPrefix = "al:"
	loginIPPrefix   = "ali:"
	refreshPrefix   = "ar:"
)

// Identifiers are lower-cased so that case variants of one email share a
// budget.
func loginUserKey(identifier string) string {
	return loginUserPrefix + strings.ToLower(strings.TrimSpace(identifier))
}

func loginIPKey(ip string) string {
	return loginIPPrefix + ip
}

func refreshKey(sessionID string) string {
	return refreshPrefix + sessionID
}
