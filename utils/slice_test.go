package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []int{1}, UniqueSlice([]int{1}))
	assert.Equal(t, []int{1}, UniqueSlice([]int{1, 1}))
	assert.Equal(t, []int{1}, UniqueSlice([]int{1, 1, 1}))
	assert.Equal(t, []int{1, 2}, UniqueSlice([]int{1, 1, 2}))
	assert.Equal(t, []int{1, 2, 3}, UniqueSlice([]int{1, 2, 2, 3, 3}))
	assert.Equal(t, []int{1, 2, 3, 4}, UniqueSlice([]int{1, 2, 2, 3, 3, 3, 3, 3, 4}))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestPath(t *testing.T) {
	p := ParsePath("rows.0.id")
	first, ok := p.First()
	assert.True(t, ok)
	assert.Equal(t, "rows", first)
	assert.Equal(t, "0.id", p.Next().String())
	assert.Empty(t, ParsePath(""))

	_, ok = Path{}.First()
	assert.False(t, ok)
	assert.Empty(t, Path{}.Next())
}

func TestSerialize(t *testing.T) {
	b, err := Serialize(map[string]string{"payload": "$SOURCE.a<b"})
	assert.Nil(t, err)
	assert.Equal(t, `{"payload":"$SOURCE.a<b"}`, string(b))

	var out map[string]string
	assert.Nil(t, Unserialize(b, &out))
	assert.Equal(t, "$SOURCE.a<b", out["payload"])
	assert.NotNil(t, Unserialize([]byte("{"), &out))

	_, err = Serialize(func() {})
	assert.NotNil(t, err)
}
