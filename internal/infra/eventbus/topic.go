package eventbus

import (
	"fmt"
	"strings"
)

// Match reports whether routingKey satisfies a topic binding pattern.
// Words are dot separated; "*" matches exactly one word and "#" matches zero
// or more words.
func Match(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}

// MatchAny reports whether any of the patterns matches routingKey.
func MatchAny(patterns []string, routingKey string) bool {
	for _, p := range patterns {
		if Match(p, routingKey) {
			return true
		}
	}
	return false
}

// ValidatePattern rejects empty patterns and empty words.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("eventbus: empty binding pattern")
	}
	for _, word := range strings.Split(pattern, ".") {
		if word == "" {
			return fmt.Errorf("eventbus: pattern %q has an empty word", pattern)
		}
		if strings.ContainsAny(word, "*#") && len(word) > 1 {
			return fmt.Errorf("eventbus: wildcard must be a whole word in %q", pattern)
		}
	}
	return nil
}
