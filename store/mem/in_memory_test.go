package mem

import (
	"context"
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	value, err := s.Get(ctx, "/connections/dev/", "warehouse")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Set(ctx, "/connections/dev/", "warehouse", []byte(`{"host":"db"}`)))
	assert.Nil(t, s.Set(ctx, "/connections/dev/", "api", []byte(`{}`)))
	assert.Nil(t, s.Set(ctx, "/connections/prod/", "warehouse", []byte(`{}`)))

	value, err = s.Get(ctx, "/connections/dev/", "warehouse")
	assert.Nil(t, err)
	assert.Equal(t, `{"host":"db"}`, string(value))

	keys := make([]string, 0)
	assert.Nil(t, s.List(ctx, "/connections/dev/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"api", "warehouse"}, keys)

	keys = keys[:0]
	assert.Nil(t, s.List(ctx, "/connections/dev/", func(key string) bool {
		keys = append(keys, key)
		return false
	}))
	assert.Equal(t, []string{"api"}, keys)

	assert.Nil(t, s.Remove(ctx, "/connections/dev/", "warehouse"))
	assert.Nil(t, s.Remove(ctx, "/connections/dev/", "warehouse"))
	value, err = s.Get(ctx, "/connections/dev/", "warehouse")
	assert.Nil(t, err)
	assert.Nil(t, value)
}

func TestMemStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	raw := []byte("abc")
	assert.Nil(t, s.Set(ctx, "/p/", "k", raw))
	raw[0] = 'x'

	value, _ := s.Get(ctx, "/p/", "k")
	assert.Equal(t, "abc", string(value))
}

func TestMemStoreErrHandler(t *testing.T) {
	ctx := context.Background()
	s := NewMemStoreWithErrHandler(func() error {
		return errors.New("store down")
	})

	_, err := s.Get(ctx, "/p/", "k")
	assert.NotNil(t, err)
	assert.NotNil(t, s.Set(ctx, "/p/", "k", nil))
	assert.NotNil(t, s.Remove(ctx, "/p/", "k"))
	assert.NotNil(t, s.List(ctx, "/p/", func(string) bool { return true }))
}

func TestMemStoreCancelledContext(t *testing.T) {
	s := NewMemStore()
	assert.Nil(t, s.Set(context.Background(), "/runs/etl/", "r1", []byte("{}")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Get(ctx, "/runs/etl/", "r1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Set(ctx, "/runs/etl/", "r2", nil), context.Canceled)

	assert.Equal(t, "/runs/etl/r1: {}\n", s.(fmt.Stringer).String())
}
