package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileWithLineNum(t *testing.T) {
	assert.Contains(t, FileWithLineNum(), "utils_test.go")
}

func TestToStringKey(t *testing.T) {
	cases := []struct {
		values []interface{}
		key    string
	}{
		{[]interface{}{1}, "1"},
		{[]interface{}{"a", uint(2)}, "a_2"},
		{[]interface{}{[]byte("x"), int64(3)}, "x_3"},
		{[]interface{}{nil}, "<nil>"},
		{[]interface{}{true, 1.5}, "true_1.5"},
	}

	for _, c := range cases {
		assert.Equal(t, c.key, ToStringKey(c.values...))
	}
}

func TestAssertEqual(t *testing.T) {
	fn := func() {}
	other := func() {}

	assert.True(t, AssertEqual(map[string]interface{}{"a": []int{1}}, map[string]interface{}{"a": []int{1}}))
	assert.False(t, AssertEqual(true, false))
	assert.True(t, AssertEqual(fn, fn))
	assert.False(t, AssertEqual(fn, other))
	assert.False(t, AssertEqual(nil, 1))
	assert.True(t, AssertEqual(nil, nil))
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Union([]string{"a", "b"}, "b", "c"))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "42", ToString(int8(42)))
	assert.Equal(t, "abc", ToString([]byte("abc")))
	assert.Equal(t, "[1 2]", ToString([]int{1, 2}))
}
