package model

import (
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultQueryLimit is used when a Query does not set a positive Limit.
const DefaultQueryLimit = 100

// Operator is a filter operator.
type Operator string

// Filter operators.
const (
	OpEQ  Operator = "EQ"
	OpNE  Operator = "NE"
	OpLT  Operator = "LT"
	OpLE  Operator = "LE"
	OpGT  Operator = "GT"
	OpGE  Operator = "GE"
	OpIN  Operator = "IN"
	OpAND Operator = "AND"
	OpOR  Operator = "OR"
)

// IsComposite reports whether op combines sub-filters.
func (op Operator) IsComposite() bool {
	return op == OpAND || op == OpOR
}

// Filter is a condition on an entity. Leaf filters compare Property against
// Values; AND and OR filters combine Subfilters.
type Filter struct {
	Operator   Operator  `json:"operator"`
	Property   string    `json:"property,omitempty"`
	Values     []Value   `json:"values,omitempty"`
	Subfilters []*Filter `json:"subfilters,omitempty"`
}

func leaf(op Operator, property string, values ...Value) *Filter {
	return &Filter{Operator: op, Property: property, Values: values}
}

// Eq matches entities whose property equals v.
func Eq(property string, v Value) *Filter { return leaf(OpEQ, property, v) }

// Ne matches entities whose property differs from v.
func Ne(property string, v Value) *Filter { return leaf(OpNE, property, v) }

// Lt matches entities whose property is less than v.
func Lt(property string, v Value) *Filter { return leaf(OpLT, property, v) }

// Le matches entities whose property is less than or equal to v.
func Le(property string, v Value) *Filter { return leaf(OpLE, property, v) }

// Gt matches entities whose property is greater than v.
func Gt(property string, v Value) *Filter { return leaf(OpGT, property, v) }

// Ge matches entities whose property is greater than or equal to v.
func Ge(property string, v Value) *Filter { return leaf(OpGE, property, v) }

// In matches entities whose property equals any of values.
func In(property string, values ...Value) *Filter { return leaf(OpIN, property, values...) }

// And matches entities that satisfy every sub-filter.
func And(filters ...*Filter) *Filter { return &Filter{Operator: OpAND, Subfilters: filters} }

// Or matches entities that satisfy at least one sub-filter.
func Or(filters ...*Filter) *Filter { return &Filter{Operator: OpOR, Subfilters: filters} }

// Validate checks the filter tree shape.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Operator.IsComposite() {
		if err := validation.ValidateStruct(f,
			validation.Field(&f.Subfilters, validation.Required),
			validation.Field(&f.Property, validation.Empty),
		); err != nil {
			return err
		}
		for i, sub := range f.Subfilters {
			if sub == nil {
				return fmt.Errorf("subfilters[%d]: must not be nil", i)
			}
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("subfilters[%d]: %w", i, err)
			}
		}
		return nil
	}

	valuesRule := validation.Length(1, 1)
	if f.Operator == OpIN {
		valuesRule = validation.Length(1, 0)
	}
	return validation.ValidateStruct(f,
		validation.Field(&f.Operator, validation.Required,
			validation.In(OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE, OpIN)),
		validation.Field(&f.Property, validation.Required),
		validation.Field(&f.Values, validation.Required, valuesRule),
	)
}

// Match reports whether e satisfies the filter. A nil filter matches
// everything. Comparisons between incompatible kinds never match, except NE.
func (f *Filter) Match(e Entity) bool {
	if f == nil {
		return true
	}

	switch f.Operator {
	case OpAND:
		for _, sub := range f.Subfilters {
			if !sub.Match(e) {
				return false
			}
		}
		return true
	case OpOR:
		for _, sub := range f.Subfilters {
			if sub.Match(e) {
				return true
			}
		}
		return false
	}

	got, ok := e.Field(f.Property)
	if !ok {
		got = Null()
	}

	switch f.Operator {
	case OpIN:
		for _, want := range f.Values {
			if got.Equal(want) {
				return true
			}
		}
		return false
	case OpEQ:
		return len(f.Values) == 1 && got.Equal(f.Values[0])
	case OpNE:
		return len(f.Values) == 1 && !got.Equal(f.Values[0])
	}

	if len(f.Values) != 1 {
		return false
	}
	c, ok := Compare(got, f.Values[0])
	if !ok {
		return false
	}
	switch f.Operator {
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpGT:
		return c > 0
	case OpGE:
		return c >= 0
	default:
		return false
	}
}

// String renders the filter for logs.
func (f *Filter) String() string {
	if f == nil {
		return "<all>"
	}
	if f.Operator.IsComposite() {
		parts := make([]string, len(f.Subfilters))
		for i, sub := range f.Subfilters {
			parts[i] = sub.String()
		}
		return "(" + strings.Join(parts, " "+string(f.Operator)+" ") + ")"
	}
	vals := make([]string, len(f.Values))
	for i, v := range f.Values {
		vals[i] = v.String()
	}
	return fmt.Sprintf("%s %s [%s]", f.Property, f.Operator, strings.Join(vals, ","))
}

// Query selects entities of one kind.
type Query struct {
	KindName      string  `json:"kindName"`
	Filter        *Filter `json:"filter,omitempty"`
	SortedBy      string  `json:"sortedBy,omitempty"`
	SortAscending bool    `json:"sortAscending,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

// NewQuery creates a query for kind with the default listing order:
// most recently updated first, DefaultQueryLimit results.
func NewQuery(kindName string) Query {
	return Query{
		KindName: kindName,
		SortedBy: FieldUpdatedAt,
		Limit:    DefaultQueryLimit,
	}
}

// Where sets the filter.
func (q Query) Where(f *Filter) Query {
	q.Filter = f
	return q
}

// OrderBy sets the sort property and direction.
func (q Query) OrderBy(property string, ascending bool) Query {
	q.SortedBy = property
	q.SortAscending = ascending
	return q
}

// WithLimit sets the maximum number of results.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// EffectiveLimit returns Limit, or DefaultQueryLimit when Limit is not positive.
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

// Validate checks that the query names a kind and has a well-formed filter.
func (q Query) Validate() error {
	if err := validation.ValidateStruct(&q,
		validation.Field(&q.KindName, validation.Required),
		validation.Field(&q.Limit, validation.Min(0)),
	); err != nil {
		return err
	}
	if err := q.Filter.Validate(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	return nil
}

// Apply evaluates the query in memory: it keeps the entities of the query's
// kind that match the filter, sorts them and truncates to the effective limit.
// The input slice is not modified.
//
// Entities whose sort property is missing or not comparable sort last.
// Ties keep their input order.
func (q Query) Apply(entities []Entity) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.KindName == q.KindName && q.Filter.Match(e) {
			out = append(out, e)
		}
	}

	if q.SortedBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := out[i].Field(q.SortedBy)
			b, _ := out[j].Field(q.SortedBy)
			c, ok := Compare(a, b)
			if !ok {
				return !a.IsNull() && b.IsNull()
			}
			if q.SortAscending {
				return c < 0
			}
			return c > 0
		})
	}

	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}
