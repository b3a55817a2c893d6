package rediskey

import (
	"fmt"
	"strings"
)

// Key prefixes shared by every kudos replica.
const (
	AppPrefix       = "kudos"
	RateLimitPrefix = "kudos:ratelimit"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRateLimitKey returns "kudos:ratelimit:{workspaceID}:{actorID}".
func BuildRateLimitKey(workspaceID, actorID string) string {
	return NamespaceKey(RateLimitPrefix, strings.Join([]string{workspaceID, actorID}, ":"))
}
