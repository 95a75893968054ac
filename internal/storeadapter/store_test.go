package storeadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandGUIDOnlyInMultiNodeMode(t *testing.T) {
	n := &Node{GUID: "abcd-1234"}

	single := expandGUID("SELECT * FROM t WHERE guid = '%GUID%'", false, n)
	assert.Contains(t, single, "%GUID%", "single-node mode must leave the placeholder untouched")

	multi := expandGUID("SELECT * FROM t WHERE guid = '%GUID%'", true, n)
	assert.Equal(t, "SELECT * FROM t WHERE guid = 'abcd-1234'", multi)
}

func TestExpandGUIDNoPlaceholder(t *testing.T) {
	n := &Node{GUID: "abcd-1234"}
	q := expandGUID("SELECT 1", true, n)
	assert.Equal(t, "SELECT 1", q)
}

func TestApplyFallbacksIntDefault(t *testing.T) {
	n := &Node{fallbacks: map[string]ColumnFallback{}}
	n.SetColumnFallback("level", ColumnFallback{IntDefault: -1})

	vals := []any{nil, "ok"}
	skip := applyFallbacks(n, []string{"level", "name"}, vals)
	assert.False(t, skip)
	assert.Equal(t, int64(-1), vals[0])
	assert.Equal(t, "ok", vals[1])
}

func TestApplyFallbacksStringDefault(t *testing.T) {
	n := &Node{fallbacks: map[string]ColumnFallback{}}
	n.SetColumnFallback("name", ColumnFallback{IsString: true, StringDefault: "<unknown>"})

	vals := []any{"x", nil}
	skip := applyFallbacks(n, []string{"other", "name"}, vals)
	assert.False(t, skip)
	assert.Equal(t, "<unknown>", vals[1])
}

func TestApplyFallbacksSkipRow(t *testing.T) {
	n := &Node{fallbacks: map[string]ColumnFallback{}}
	n.SetColumnFallback("required_id", ColumnFallback{SkipRow: true})

	vals := []any{nil}
	skip := applyFallbacks(n, []string{"required_id"}, vals)
	assert.True(t, skip)
}

func TestApplyFallbacksNoPolicyLeavesNil(t *testing.T) {
	n := &Node{fallbacks: map[string]ColumnFallback{}}
	vals := []any{nil}
	skip := applyFallbacks(n, []string{"untracked"}, vals)
	assert.False(t, skip)
	assert.Nil(t, vals[0])
}
