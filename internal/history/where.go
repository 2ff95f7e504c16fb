package history

import (
	"fmt"
	"strings"
	"time"
)

// whereBuilder accumulates positional predicates for a dynamic query.
// Empty filters are skipped so callers can add every option unconditionally.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{argIndex: 1}
}

// Add appends "column = $n" when value is non-empty.
func (wb *whereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = $%d", column, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// AddSince appends "column >= $n" when since is set.
func (wb *whereBuilder) AddSince(column string, since time.Time) {
	if since.IsZero() {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s >= $%d", column, wb.argIndex))
	wb.args = append(wb.args, since)
	wb.argIndex++
}

// AddTimestampRange appends an inclusive range on column.
func (wb *whereBuilder) AddTimestampRange(column string, start, end any) {
	wb.conditions = append(wb.conditions,
		fmt.Sprintf("%s >= $%d", column, wb.argIndex),
		fmt.Sprintf("%s <= $%d", column, wb.argIndex+1))
	wb.args = append(wb.args, start, end)
	wb.argIndex += 2
}

// NextArgIndex is the placeholder number the next argument will take.
func (wb *whereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns " WHERE ..." and its arguments, or ("", nil) with no conditions.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}
