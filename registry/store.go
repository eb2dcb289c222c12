package registry

import (
	"context"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/utils"
)

var (
	_ Registry = &StoreRegistry{}
)

func connectionPrefix(namespace string) string {
	return "/connections/" + namespace + "/"
}

func variablePrefix(namespace string) string {
	return "/variables/" + namespace + "/"
}

// StoreRegistry keeps entries as JSON documents in a store.Store under
// /connections/<namespace>/ and /variables/<namespace>/.
type StoreRegistry struct {
	store store.Store
}

func NewStoreRegistry(s store.Store) *StoreRegistry {
	return &StoreRegistry{store: s}
}

func (r *StoreRegistry) GetConnection(ctx context.Context, namespace, key string) (*Connection, error) {
	conn := &Connection{}
	if err := r.get(ctx, connectionPrefix(namespace), key, conn); err != nil {
		return nil, errors.Annotatef(err, "connection %s/%s", namespace, key)
	}
	return conn, nil
}

func (r *StoreRegistry) GetVariable(ctx context.Context, namespace, key string) (*Variable, error) {
	v := &Variable{}
	if err := r.get(ctx, variablePrefix(namespace), key, v); err != nil {
		return nil, errors.Annotatef(err, "variable %s/%s", namespace, key)
	}
	if v.ID == "" {
		v.ID = key
	}
	return v, nil
}

func (r *StoreRegistry) get(ctx context.Context, prefix, key string, obj any) error {
	value, err := r.store.Get(ctx, prefix, key)
	if err != nil {
		return errors.Trace(err)
	}
	if value == nil {
		return errors.NotFoundf("%s%s", prefix, key)
	}
	return errors.Annotatef(utils.Unserialize(value, obj), "decode %s%s", prefix, key)
}

func (r *StoreRegistry) SetConnection(ctx context.Context, namespace, key string, conn *Connection) error {
	value, err := utils.Serialize(conn)
	if err != nil {
		return errors.Trace(err)
	}
	return r.store.Set(ctx, connectionPrefix(namespace), key, value)
}

func (r *StoreRegistry) SetVariable(ctx context.Context, namespace string, v *Variable) error {
	if v.ID == "" {
		return errors.BadRequestf("variable without id")
	}
	value, err := utils.Serialize(v)
	if err != nil {
		return errors.Trace(err)
	}
	return r.store.Set(ctx, variablePrefix(namespace), v.ID, value)
}

func (r *StoreRegistry) ListConnections(ctx context.Context, namespace string) ([]string, error) {
	return r.list(ctx, connectionPrefix(namespace))
}

func (r *StoreRegistry) ListVariables(ctx context.Context, namespace string) ([]string, error) {
	return r.list(ctx, variablePrefix(namespace))
}

func (r *StoreRegistry) list(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := r.store.List(ctx, prefix, func(key string) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return keys, nil
}
