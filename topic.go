package mqttsession

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
	ErrMalformedUTF8      = errors.New("malformed UTF-8")
)

const (
	topicSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

func checkTopicString(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if len(topic) > maxStringLength || !utf8.ValidString(topic) || strings.IndexByte(topic, 0) >= 0 {
		return ErrMalformedUTF8
	}
	return nil
}

// ValidateTopicName validates a topic used for PUBLISH. Wildcards are not allowed.
func ValidateTopicName(topic string) error {
	if err := checkTopicString(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter validates a subscription filter: wildcards must occupy a
// whole level and "#" may only be the last level.
func ValidateTopicFilter(filter string) error {
	if err := checkTopicString(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, topicSeparator)
	for i, level := range levels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return ErrInvalidTopicFilter
		}
		if strings.Contains(level, multiLevelWildcard) && (level != multiLevelWildcard || i != len(levels)-1) {
			return ErrInvalidTopicFilter
		}
	}

	return nil
}

// TopicMatch reports whether topic matches filter. Topics starting with '$'
// are not matched by a leading wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if topic[0] == '$' && (strings.HasPrefix(filter, singleLevelWildcard) || strings.HasPrefix(filter, multiLevelWildcard)) {
		return false
	}

	flevels := strings.Split(filter, topicSeparator)
	tlevels := strings.Split(topic, topicSeparator)
	for i, f := range flevels {
		if f == multiLevelWildcard {
			return true
		}
		if i >= len(tlevels) {
			return false
		}
		if f != singleLevelWildcard && f != tlevels[i] {
			return false
		}
	}
	return len(flevels) == len(tlevels)
}

// SubscriptionIssuer is the part of a Transport the registry drives.
type SubscriptionIssuer interface {
	SubscribeMultiple(filters []string, opts SubscribeOptions, props *Properties) (uint16, error)
	Unsubscribe(filter string, props *Properties) (uint16, error)
}

// FlushResult reports the message ids of the requests issued by Flush.
type FlushResult struct {
	SubscribeID    uint16
	UnsubscribeIDs []uint16
}

// TopicRegistry holds the subscribe and unsubscribe filters in insertion order.
// Duplicates are kept; the broker deduplicates.
type TopicRegistry struct {
	subscribe   []string
	unsubscribe []string
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{}
}

// AddSubscribe validates and appends a subscription filter.
func (r *TopicRegistry) AddSubscribe(filter string) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return NewTopicValidationError(filter, false, err)
	}
	r.subscribe = append(r.subscribe, filter)
	return nil
}

// AddUnsubscribe validates and appends a filter to remove after subscribing.
func (r *TopicRegistry) AddUnsubscribe(filter string) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return NewTopicValidationError(filter, true, err)
	}
	r.unsubscribe = append(r.unsubscribe, filter)
	return nil
}

// Subscriptions returns a copy of the subscribe set.
func (r *TopicRegistry) Subscriptions() []string {
	return append([]string(nil), r.subscribe...)
}

// Unsubscriptions returns a copy of the unsubscribe set.
func (r *TopicRegistry) Unsubscriptions() []string {
	return append([]string(nil), r.unsubscribe...)
}

// Empty reports whether Flush would issue nothing.
func (r *TopicRegistry) Empty() bool {
	return len(r.subscribe) == 0 && len(r.unsubscribe) == 0
}

// Flush issues one SUBSCRIBE carrying every subscribe filter, then one
// UNSUBSCRIBE per unsubscribe filter. It stops at the first transport error.
func (r *TopicRegistry) Flush(issuer SubscriptionIssuer, opts SubscribeOptions, subProps, unsubProps *Properties) (FlushResult, error) {
	var result FlushResult

	if len(r.subscribe) > 0 {
		id, err := issuer.SubscribeMultiple(r.Subscriptions(), opts, subProps)
		if err != nil {
			return result, err
		}
		result.SubscribeID = id
	}

	for _, filter := range r.unsubscribe {
		id, err := issuer.Unsubscribe(filter, unsubProps)
		if err != nil {
			return result, err
		}
		result.UnsubscribeIDs = append(result.UnsubscribeIDs, id)
	}

	return result, nil
}
