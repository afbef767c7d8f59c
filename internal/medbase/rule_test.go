package medbase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_RegisterIdempotentAndMonotonic(t *testing.T) {
	rule := NewRule()

	id1, err := rule.Register("X001")
	require.NoError(t, err)
	assert.Equal(t, "PID000001", id1)

	// 幂等：同一主键返回同一标识
	again, err := rule.Register("X001")
	require.NoError(t, err)
	assert.Equal(t, id1, again)

	// 单调：序号按首见顺序严格递增
	id2, err := rule.Register("X002")
	require.NoError(t, err)
	assert.Equal(t, "PID000002", id2)

	assert.Equal(t, 2, rule.Count())

	internal, ok := rule.InternalKey("X001")
	require.True(t, ok)
	assert.Equal(t, "PID000001", internal)

	_, ok = rule.InternalKey("X999")
	assert.False(t, ok)
}

func TestRule_IsPrimaryKey(t *testing.T) {
	rule := NewRule()

	assert.True(t, rule.IsPrimaryKey("X001"))
	assert.True(t, rule.IsPrimaryKey("123"))
	assert.False(t, rule.IsPrimaryKey("ab"))
	assert.False(t, rule.IsPrimaryKey(""))
}

func TestRule_Restore(t *testing.T) {
	rule := NewRule()
	_, err := rule.Register("X001")
	require.NoError(t, err)
	_, err = rule.Register("X002")
	require.NoError(t, err)

	restored := NewRule()
	restored.Restore(rule.Pairs())

	// 恢复后既有分配不变，后续分配继续单调
	internal, ok := restored.InternalKey("X002")
	require.True(t, ok)
	assert.Equal(t, "PID000002", internal)

	id3, err := restored.Register("X003")
	require.NoError(t, err)
	assert.Equal(t, "PID000003", id3)
}
