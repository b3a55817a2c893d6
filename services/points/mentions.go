package points

import (
	"regexp"
	"strings"
)

var (
	mentionPattern    = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>\s*\+\+`)
	leadingForPattern = regexp.MustCompile(`(?i)^\s*for\b\s*`)
)

type Mentions struct {
	Recipients []string
	Reason     *string
}

// ParseMentions extracts `<@USER>++` awards from a chat message. Recipients
// are unique and keep first-seen order; the text left after removing every
// award token is the reason. It returns nil when the message awards nobody.
func ParseMentions(text string) *Mentions {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	recipients := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		recipients = append(recipients, m[1])
	}

	var reason *string
	if rest := strings.TrimSpace(mentionPattern.ReplaceAllString(text, "")); rest != "" {
		reason = &rest
	}

	return &Mentions{Recipients: recipients, Reason: reason}
}

// FormatReason prepares a stored reason for display by dropping a leading
// "for". Blank results are nil.
func FormatReason(reason *string) *string {
	if reason == nil {
		return nil
	}
	out := strings.TrimSpace(leadingForPattern.ReplaceAllString(*reason, ""))
	if out == "" {
		return nil
	}
	return &out
}
