package badger

import (
	"context"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/types"
)

var (
	_ store.Store = &badgerStore{}
)

const separator = "|"

// badgerStore keeps prefix|key entries in an embedded badger database,
// for single host deployments that want the registry on local disk.
type badgerStore struct {
	db *badger.DB
}

func NewBadgerStore(config *types.BadgerConfig) (store.Store, error) {
	if config == nil {
		return nil, errors.BadRequestf("badger config is nil")
	}
	if !config.InMemory && config.Path == "" {
		return nil, errors.BadRequestf("badger path is required for a persistent store")
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Path, 0750); err != nil {
			return nil, errors.Annotatef(err, "create badger directory %s", config.Path)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger database")
	}
	return &badgerStore{db: db}, nil
}

func (b *badgerStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefix + separator + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	return value, nil
}

func (b *badgerStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefix+separator+key), value)
	})
	if err != nil {
		return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (b *badgerStore) Remove(ctx context.Context, prefix, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefix + separator + key))
	})
	if err != nil {
		return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (b *badgerStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	// collect first so the iterator may call back into the store
	full := []byte(prefix + separator)
	keys := make([]string, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = full

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), string(full)))
		}
		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}

	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (b *badgerStore) Close() error {
	return b.db.Close()
}
