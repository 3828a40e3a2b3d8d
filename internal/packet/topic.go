package packet

import (
	"unicode/utf8"

	"github.com/riftmq/broker/pkg/er"
)

func containsWildcards(topic string) bool {
	for _, c := range topic {
		if c == '+' || c == '#' {
			return true
		}
	}
	return false
}

// validateTopicName validates a PUBLISH topic name: no wildcards, valid
// UTF-8, no null or control characters.
func validateTopicName(topic string) error {
	if topic == "" {
		return &er.Err{Context: "Publish, Topic", Message: er.ErrEmptyTopic}
	}
	if containsWildcards(topic) {
		return &er.Err{Context: "Publish, Topic", Message: er.ErrWildcardsNotAllowedInPublish}
	}
	return validateCharset(topic, "Publish")
}

// validateTopicFilter validates an UNSUBSCRIBE topic filter: valid UTF-8,
// no null/control characters, and well-formed + / # wildcards. SUBSCRIBE
// filters are validated later, by Director.HandleSubscribe, so a bad one
// yields a per-filter SUBACK failure instead of failing Parse.
func validateTopicFilter(filter string) error {
	if filter == "" {
		return &er.Err{Context: "Subscribe, Topic Filter", Message: er.ErrEmptyTopicFilter}
	}
	if err := validateCharset(filter, "Subscribe, Topic Filter"); err != nil {
		return err
	}
	return validateWildcards(filter)
}

func validateCharset(topic, context string) error {
	if !utf8.ValidString(topic) {
		return &er.Err{Context: context, Message: er.ErrInvalidUTF8Topic}
	}
	for _, r := range topic {
		if r == 0 {
			return &er.Err{Context: context, Message: er.ErrNullCharacterInTopic}
		}
		if (r >= 0x0001 && r <= 0x001F) || (r >= 0x007F && r <= 0x009F) {
			return &er.Err{Context: context, Message: er.ErrControlCharacterInTopic}
		}
	}
	return nil
}

// validateWildcards checks that '#' appears only as a whole, final level
// and '+' only as a whole level, per MQTT 3.1.1 §4.7.
func validateWildcards(filter string) error {
	runes := []rune(filter)
	n := len(runes)

	for i, r := range runes {
		switch r {
		case '#':
			if i != n-1 {
				return &er.Err{Context: "Wildcard", Message: er.ErrMultiLevelWildcardNotLast}
			}
			if i > 0 && runes[i-1] != '/' {
				return &er.Err{Context: "Wildcard", Message: er.ErrMultiLevelWildcardNotAlone}
			}
		case '+':
			if i > 0 && runes[i-1] != '/' {
				return &er.Err{Context: "Wildcard", Message: er.ErrSingleLevelWildcardNotAlone}
			}
			if i < n-1 && runes[i+1] != '/' {
				return &er.Err{Context: "Wildcard", Message: er.ErrSingleLevelWildcardNotAlone}
			}
		}
	}
	return nil
}
