package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditionSimpleID(t *testing.T) {
	node, err := ParseCondition("task_a")
	require.NoError(t, err)
	assert.True(t, node.Eval(map[string]TaskStatus{"task_a": TaskStatusCompleted}))
	assert.False(t, node.Eval(map[string]TaskStatus{"task_a": TaskStatusFailed}))
}

func TestParseConditionNot(t *testing.T) {
	node, err := ParseCondition("NOT task_a")
	require.NoError(t, err)
	assert.False(t, node.Eval(map[string]TaskStatus{"task_a": TaskStatusCompleted}))
	assert.True(t, node.Eval(map[string]TaskStatus{"task_a": TaskStatusFailed}))
}

func TestParseConditionAndOrPrecedence(t *testing.T) {
	// AND binds tighter than OR: a OR b AND c == a OR (b AND c)
	node, err := ParseCondition("a OR b AND c")
	require.NoError(t, err)

	assert.True(t, node.Eval(map[string]TaskStatus{
		"a": TaskStatusCompleted, "b": TaskStatusFailed, "c": TaskStatusFailed,
	}))
	assert.False(t, node.Eval(map[string]TaskStatus{
		"a": TaskStatusFailed, "b": TaskStatusCompleted, "c": TaskStatusFailed,
	}))
	assert.True(t, node.Eval(map[string]TaskStatus{
		"a": TaskStatusFailed, "b": TaskStatusCompleted, "c": TaskStatusCompleted,
	}))
}

func TestParseConditionParentheses(t *testing.T) {
	node, err := ParseCondition("(a OR b) AND c")
	require.NoError(t, err)

	assert.False(t, node.Eval(map[string]TaskStatus{
		"a": TaskStatusCompleted, "b": TaskStatusFailed, "c": TaskStatusFailed,
	}))
	assert.True(t, node.Eval(map[string]TaskStatus{
		"a": TaskStatusCompleted, "b": TaskStatusFailed, "c": TaskStatusCompleted,
	}))
}

func TestParseConditionRejectsEmptyExpression(t *testing.T) {
	_, err := ParseCondition("")
	assert.Error(t, err)
}

func TestParseConditionRejectsUnbalancedParens(t *testing.T) {
	_, err := ParseCondition("(a AND b")
	assert.Error(t, err)
}

func TestParseConditionRejectsTrailingTokens(t *testing.T) {
	_, err := ParseCondition("a b")
	assert.Error(t, err)
}

func TestConditionReferencesDeduplicates(t *testing.T) {
	refs, err := ConditionReferences("a AND a OR b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, refs)
}
