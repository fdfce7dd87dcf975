// Package flows matches inbound messages against flow trigger filters and
// builds the input record handed to the external flow engine.
package flows

import (
	"regexp"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// Matches reports whether a message satisfies every filter of a trigger.
// Filters are applied in sequence; all must hold.
func Matches(tr *store.FlowTrigger, msg *bus.Message) bool {
	if !platformMatches(tr.Platform, msg.Platform) {
		return false
	}
	if !typeMatches(tr, msg.ContentType) {
		return false
	}
	if !contentMatches(tr, msg.Content) {
		return false
	}
	if !senderMatches(tr, msg.From) {
		return false
	}
	return groupMatches(tr, msg)
}

func platformMatches(want, got string) bool {
	return want == "" || want == "any" || strings.EqualFold(want, got)
}

func typeMatches(tr *store.FlowTrigger, ct bus.ContentType) bool {
	// No flags set means any type.
	if !tr.Text && !tr.Image && !tr.Video && !tr.Audio && !tr.Voice && !tr.Document {
		return true
	}
	switch ct {
	case bus.ContentText, "":
		return tr.Text
	case bus.ContentImage:
		return tr.Image
	case bus.ContentVideo:
		return tr.Video
	case bus.ContentAudio:
		return tr.Audio
	case bus.ContentVoice:
		return tr.Voice
	case bus.ContentDocument:
		return tr.Document
	default:
		return false
	}
}

func contentMatches(tr *store.FlowTrigger, content string) bool {
	if tr.PatternType == "" || tr.PatternType == "any" {
		return true
	}
	pattern := tr.Pattern
	if !tr.CaseSensitive {
		content = strings.ToLower(content)
		pattern = strings.ToLower(pattern)
	}
	switch tr.PatternType {
	case "contains":
		return strings.Contains(content, pattern)
	case "starts_with":
		return strings.HasPrefix(content, pattern)
	case "ends_with":
		return strings.HasSuffix(content, pattern)
	case "exact":
		return content == pattern
	case "regex":
		re, err := compileCached(tr.Pattern, tr.CaseSensitive)
		if err != nil {
			return false
		}
		return re.MatchString(content)
	default:
		return false
	}
}

func senderMatches(tr *store.FlowTrigger, from string) bool {
	lower := strings.ToLower(from)
	if tr.From != "" && !strings.EqualFold(tr.From, from) {
		return false
	}
	if tr.NotFrom != "" && strings.EqualFold(tr.NotFrom, from) {
		return false
	}
	if tr.SenderFilter != "" {
		matched := false
		for _, part := range strings.Split(tr.SenderFilter, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" && strings.Contains(lower, part) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func groupMatches(tr *store.FlowTrigger, msg *bus.Message) bool {
	if tr.IsGroup != nil && *tr.IsGroup != msg.IsGroup {
		return false
	}
	if tr.FromGroups && !tr.FromPrivate && !msg.IsGroup {
		return false
	}
	if tr.FromPrivate && !tr.FromGroups && msg.IsGroup {
		return false
	}
	return true
}

// Regex filters are evaluated per message; cache compiled patterns.
var (
	reCacheMu sync.RWMutex
	reCache   = map[string]*regexp.Regexp{}
)

func compileCached(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := pattern
	if !caseSensitive {
		key = "(?i)" + pattern
	}
	reCacheMu.RLock()
	re, ok := reCache[key]
	reCacheMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		return nil, err
	}
	reCacheMu.Lock()
	reCache[key] = re
	reCacheMu.Unlock()
	return re, nil
}
