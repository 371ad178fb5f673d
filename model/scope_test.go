package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScope(t *testing.T) {
	tests := []struct {
		scope        Scope
		past, future bool
		name         string
	}{
		{ScopePast, true, false, "past"},
		{ScopeFuture, false, true, "future"},
		{ScopeFutureAndPast, true, true, "future_and_past"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, tt.scope.Validate())
			assert.Equal(t, tt.past, tt.scope.IncludesPast())
			assert.Equal(t, tt.future, tt.scope.IncludesFuture())
			assert.Equal(t, tt.name, tt.scope.String())
		})
	}

	assert.Error(t, Scope(9).Validate())
	assert.Equal(t, "Scope(9)", Scope(9).String())
}

func TestIsQueryTopic(t *testing.T) {
	assert.True(t, IsQueryTopic(QueryTopicPrefix+"abc"))
	assert.False(t, IsQueryTopic("weather"))
	assert.False(t, IsQueryTopic(BroadcastTopicID))
}

func TestNewQuerySubscription(t *testing.T) {
	sub := NewQuerySubscription("_query:1", NewQuery("Person"), func([]Entity, error) {})

	assert.True(t, sub.IsContinuous())
	assert.Equal(t, "Person", sub.Query.KindName)
	assert.False(t, NewSubscription("weather", 5, nil).IsContinuous())
}
