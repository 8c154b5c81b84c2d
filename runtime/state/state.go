// Package state defines the scoped key/value and row-store contract consumed
// by state action handlers, together with an in-memory reference
// implementation and a bbolt-backed persistent implementation.
package state

import (
	"fmt"
	"sort"
	"strings"
)

// Kind names the coordinate set a stored value is keyed under.
type Kind string

const (
	KindGlobal  Kind = "global"
	KindGuild   Kind = "guild"
	KindChannel Kind = "channel"
	KindUser    Kind = "user"
	KindMember  Kind = "member"
)

// Scope is the (guild, channel, user) coordinate subset of a stored value.
// Absent fields mean "global": the zero Scope is the global scope.
type Scope struct {
	GuildID   string
	ChannelID string
	UserID    string
}

// Kind derives the scope kind from the populated fields. Guild plus user is a
// member scope; a channel id takes precedence over a bare guild id.
func (s Scope) Kind() Kind {
	switch {
	case s.GuildID != "" && s.UserID != "":
		return KindMember
	case s.UserID != "":
		return KindUser
	case s.ChannelID != "":
		return KindChannel
	case s.GuildID != "":
		return KindGuild
	default:
		return KindGlobal
	}
}

// Key renders the scope as a stable storage prefix.
func (s Scope) Key() string {
	switch s.Kind() {
	case KindMember:
		return fmt.Sprintf("member:%s:%s", s.GuildID, s.UserID)
	case KindUser:
		return "user:" + s.UserID
	case KindChannel:
		return "channel:" + s.ChannelID
	case KindGuild:
		return "guild:" + s.GuildID
	default:
		return "global"
	}
}

// Query selects rows from a named table. All filters are optional.
type Query struct {
	// Where matches rows whose columns equal every given value.
	Where map[string]any
	// Select projects the listed columns; empty means all columns.
	Select []string
	// OrderBy sorts by one column; Desc reverses the order.
	OrderBy string
	Desc    bool
	// Limit and Offset page the result; Limit 0 means no limit.
	Limit  int
	Offset int
}

// Manager is the store contract the execution core depends on. Scoped values
// outlive any single execution context; atomic counters must go through
// Increment/Decrement rather than read-modify-write.
type Manager interface {
	Get(key string, scope Scope) (any, error)
	Set(key string, value any, scope Scope) error
	Delete(key string, scope Scope) error
	Increment(key string, delta float64, scope Scope) (float64, error)
	Decrement(key string, delta float64, scope Scope) (float64, error)

	// Insert adds a row, assigning a numeric "_id" primary key when the row
	// does not carry one, and returns the stored row.
	Insert(table string, row map[string]any) (map[string]any, error)
	// Update patches every row matching where and returns the affected count.
	// With upsert set, a zero match inserts the union of where and patch.
	Update(table string, where, patch map[string]any, upsert bool) (int, error)
	DeleteRows(table string, where map[string]any) (int, error)
	Query(table string, q Query) ([]map[string]any, error)

	Close() error
}

func scopedKey(scope Scope, key string) string {
	return scope.Key() + "\x00" + key
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", v)
	}
}

func matchWhere(row, where map[string]any) bool {
	for col, want := range where {
		got, ok := row[col]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func projectRow(row map[string]any, columns []string) map[string]any {
	if len(columns) == 0 {
		out := make(map[string]any, len(row))
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}

func sortRows(rows []map[string]any, orderBy string, desc bool) {
	if orderBy == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		less := compareValues(rows[i][orderBy], rows[j][orderBy]) < 0
		if desc {
			return !less
		}
		return less
	})
}

func compareValues(a, b any) int {
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func pageRows(rows []map[string]any, limit, offset int) []map[string]any {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
