package model

import (
	"fmt"
	"strings"
)

// Scope selects which results a listing covers: entities that exist now,
// results of later changes, or both.
type Scope int

const (
	// ScopePast lists the current result once.
	ScopePast Scope = iota
	// ScopeFuture registers a continuous query without listing now.
	ScopeFuture
	// ScopeFutureAndPast lists now and registers a continuous query.
	ScopeFutureAndPast
)

// QueryTopicPrefix marks topic ids that belong to continuous queries.
const QueryTopicPrefix = "_query:"

// IsQueryTopic reports whether topicID names a continuous query.
func IsQueryTopic(topicID string) bool {
	return strings.HasPrefix(topicID, QueryTopicPrefix)
}

// IncludesPast reports whether the scope lists the current result.
func (s Scope) IncludesPast() bool {
	return s == ScopePast || s == ScopeFutureAndPast
}

// IncludesFuture reports whether the scope keeps the query registered.
func (s Scope) IncludesFuture() bool {
	return s == ScopeFuture || s == ScopeFutureAndPast
}

// Validate rejects unknown scopes.
func (s Scope) Validate() error {
	switch s {
	case ScopePast, ScopeFuture, ScopeFutureAndPast:
		return nil
	}
	return fmt.Errorf("unknown scope %d", int(s))
}

func (s Scope) String() string {
	switch s {
	case ScopePast:
		return "past"
	case ScopeFuture:
		return "future"
	case ScopeFutureAndPast:
		return "future_and_past"
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}
