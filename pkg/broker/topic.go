package broker

import "strings"

// MatchTopic reports whether routingKey matches a topic binding pattern.
// Words are separated by dots; "*" matches exactly one word and "#" matches
// zero or more words.
func MatchTopic(pattern, routingKey string) bool {
	if pattern == "#" {
		return true
	}
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

// Route reports whether a message published with routingKey to an exchange of
// the given kind reaches a queue bound with bindingKey.
func Route(kind ExchangeKind, bindingKey, routingKey string) bool {
	switch kind {
	case ExchangeFanout:
		return true
	case ExchangeDirect:
		return bindingKey == routingKey
	default:
		return MatchTopic(bindingKey, routingKey)
	}
}
