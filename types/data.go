package types

import (
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"github.com/warriorguo/dagflow/utils"
)

// Data is the JSON-like map flowing between nodes: node inputs, outputs and
// trigger payloads all use it.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	v, exists := (*d)[key]
	return v, exists
}

// convert applies a cast conversion to the value under key. A missing key
// gives the zero value.
func convert[T any](d *Data, key string, to func(any) T) (T, bool) {
	v, exists := d.Get(key)
	if !exists {
		var zero T
		return zero, false
	}
	return to(v), true
}

func (d *Data) GetString(key string) (string, bool) {
	return convert(d, key, cast.ToString)
}

func (d *Data) GetInt(key string) (int, bool) {
	return convert(d, key, cast.ToInt)
}

func (d *Data) GetFloat64(key string) (float64, bool) {
	return convert(d, key, cast.ToFloat64)
}

func (d *Data) GetDuration(key string) (time.Duration, bool) {
	return convert(d, key, cast.ToDuration)
}

func (d *Data) GetStringMap(key string) (map[string]any, bool) {
	return convert(d, key, cast.ToStringMap)
}

// GetStruct decodes the value under key into s through its JSON form, the
// shape it would have after a trip through the store.
func (d *Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFoundf("data key %q", key)
	}
	b, err := utils.Serialize(v)
	if err != nil {
		return errors.Annotatef(err, "encode %q", key)
	}
	return errors.Annotatef(utils.Unserialize(b, s), "decode %q", key)
}

func (d *Data) Set(key string, value any) {
	(*d)[key] = value
}

// Absent reports whether the slot holds the output of a failed non-fatal producer.
func (d *Data) Absent(key string) bool {
	v, exists := d.Get(key)
	return exists && IsAbsent(v)
}

func (d Data) Clone() Data {
	return utils.CloneMap(d)
}
