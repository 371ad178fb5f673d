package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleEntities() []Entity {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id, kind string, age int64, city string, minutes int) Entity {
		e := NewEntity(kind)
		e.ID = id
		e.Owner = "owner-" + id
		e.CreatedAt = base.Add(time.Duration(minutes) * time.Minute)
		e.UpdatedAt = e.CreatedAt.Add(time.Hour)
		e.Properties.Set("age", Int(age)).Set("city", String(city))
		return e
	}
	return []Entity{
		mk("1", "Person", 30, "Oslo", 1),
		mk("2", "Person", 25, "Rome", 2),
		mk("3", "Person", 40, "Oslo", 3),
		mk("4", "Pet", 3, "Oslo", 4),
		mk("5", "Person", 25, "Lima", 5),
	}
}

func ids(entities []Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func TestFilter_Match(t *testing.T) {
	e := sampleEntities()[0]

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil matches", nil, true},
		{"eq", Eq("city", String("Oslo")), true},
		{"eq int vs float", Eq("age", Float(30)), true},
		{"ne", Ne("city", String("Oslo")), false},
		{"lt", Lt("age", Int(31)), true},
		{"le", Le("age", Int(30)), true},
		{"gt", Gt("age", Int(30)), false},
		{"ge", Ge("age", Int(30)), true},
		{"in", In("city", String("Rome"), String("Oslo")), true},
		{"in miss", In("city", String("Rome")), false},
		{"builtin id", Eq(FieldID, String("1")), true},
		{"builtin owner", Eq(FieldOwner, String("owner-1")), true},
		{"builtin time", Gt(FieldCreatedAt, Time(e.CreatedAt.Add(-time.Nanosecond))), true},
		{"incompatible kinds", Gt("city", Int(1)), false},
		{"missing property", Eq("nope", String("x")), false},
		{"missing property ne", Ne("nope", String("x")), true},
		{"and", And(Eq("city", String("Oslo")), Ge("age", Int(18))), true},
		{"and fails", And(Eq("city", String("Oslo")), Lt("age", Int(18))), false},
		{"or", Or(Eq("city", String("Rome")), Eq("age", Int(30))), true},
		{"or fails", Or(Eq("city", String("Rome")), Eq("age", Int(31))), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(e))
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filter  *Filter
		wantErr bool
	}{
		{"nil", nil, false},
		{"leaf", Eq("a", Int(1)), false},
		{"in many", In("a", Int(1), Int(2)), false},
		{"nested", And(Eq("a", Int(1)), Or(Eq("b", Int(1)), Eq("c", Int(2)))), false},
		{"missing property", Eq("", Int(1)), true},
		{"two values for eq", &Filter{Operator: OpEQ, Property: "a", Values: []Value{Int(1), Int(2)}}, true},
		{"in without values", In("a"), true},
		{"unknown operator", &Filter{Operator: "LIKE", Property: "a", Values: []Value{Int(1)}}, true},
		{"empty and", And(), true},
		{"nil subfilter", And(nil), true},
		{"bad nested", And(Eq("", Int(1))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, NewQuery("Person").Validate())
	assert.Error(t, NewQuery("").Validate())
	assert.Error(t, NewQuery("Person").WithLimit(-1).Validate())
	assert.Error(t, NewQuery("Person").Where(Eq("", Int(1))).Validate())
}

func TestNewQuery_Defaults(t *testing.T) {
	q := NewQuery("Person")

	assert.Equal(t, FieldUpdatedAt, q.SortedBy)
	assert.False(t, q.SortAscending)
	assert.Equal(t, DefaultQueryLimit, q.Limit)
	assert.Equal(t, DefaultQueryLimit, Query{}.EffectiveLimit())
}

func TestQuery_Apply(t *testing.T) {
	entities := sampleEntities()

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{
			name:  "default listing newest update first",
			query: NewQuery("Person"),
			want:  []string{"5", "3", "2", "1"},
		},
		{
			name:  "filtered ascending by age keeps input order on ties",
			query: NewQuery("Person").Where(Lt("age", Int(35))).OrderBy("age", true),
			want:  []string{"2", "5", "1"},
		},
		{
			name:  "limit",
			query: NewQuery("Person").OrderBy(FieldCreatedAt, true).WithLimit(2),
			want:  []string{"1", "2"},
		},
		{
			name:  "other kind",
			query: NewQuery("Pet"),
			want:  []string{"4"},
		},
		{
			name:  "unsorted keeps input order",
			query: Query{KindName: "Person", Filter: Eq("city", String("Oslo"))},
			want:  []string{"1", "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(tt.query.Apply(entities)))
		})
	}
}

func TestQuery_ApplyMissingSortPropertySortsLast(t *testing.T) {
	entities := sampleEntities()[:3]
	entities[1].Properties.Delete("age")

	got := NewQuery("Person").OrderBy("age", false).Apply(entities)
	assert.Equal(t, []string{"3", "1", "2"}, ids(got))
}
