package commsutil

import (
	"errors"
	"strings"
)

// SubjectPrefix scopes every bus topic on the relay.
const SubjectPrefix = "streamcall.topic."

// ErrInvalidTopic is returned for topics that cannot be carried as a subject.
var ErrInvalidTopic = errors.New("commsutil: invalid topic")

// BuildTopicSubject maps a bus topic onto a relay subject.
func BuildTopicSubject(topic string) string {
	return SubjectPrefix + topic
}

// TopicFromSubject reverses BuildTopicSubject.
func TopicFromSubject(subject string) (string, bool) {
	if !strings.HasPrefix(subject, SubjectPrefix) {
		return "", false
	}
	return strings.TrimPrefix(subject, SubjectPrefix), true
}

// ValidateTopic rejects topics that are empty, contain whitespace or
// wildcards, or have empty dot separated tokens.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, " \t\r\n*>") {
		return ErrInvalidTopic
	}
	for _, tok := range strings.Split(topic, ".") {
		if tok == "" {
			return ErrInvalidTopic
		}
	}
	return nil
}
