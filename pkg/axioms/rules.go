package axioms

import (
	"regexp"
	"strings"
	"sync"

	"aegis/pkg/models"
)

var (
	regexMu    sync.Mutex
	regexCache = map[string]*regexp.Regexp{}
)

// Matches reports whether an action description triggers the rule.
// Dispatch is the single evaluation point for every rule kind.
func Matches(rule models.MatchRule, action string) bool {
	action = strings.ToLower(action)
	switch rule.Kind {
	case models.RuleKeywords:
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(action, kw) {
				return true
			}
		}
		return false
	case models.RuleRegex:
		re, err := compile(rule.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(action)
	case models.RuleCategory:
		// Category rules trigger on an explicit marker the upstream
		// classifier embeds into the description, e.g. "[category:pii]".
		marker := "[category:" + strings.ToLower(strings.TrimSpace(rule.Category)) + "]"
		return rule.Category != "" && strings.Contains(action, marker)
	default:
		return false
	}
}

func compile(pattern string) (*regexp.Regexp, error) {
	regexMu.Lock()
	defer regexMu.Unlock()
	if re, ok := regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	regexCache[pattern] = re
	return re, nil
}
