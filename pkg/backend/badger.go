package backend

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/lostatc/acid-store/pkg/apierr"
)

// Badger is a persistent local backend built on dgraph-io/badger,
// following the teacher's keyValStore.KeyValStore: a single embedded
// LSM-tree keyed by the same opaque keyspace the repository engine
// already speaks, with SyncWrites left off in favor of an explicit
// Sync on every Write so durability is guaranteed to the same degree
// Directory's fsync-then-rename guarantees it.
type Badger struct {
	db  *badger.DB
	log *logrus.Logger
}

// BadgerOptions configures the Badger backend.
type BadgerOptions struct {
	Path   string
	Logger *logrus.Logger
}

// NewBadger opens (creating if necessary) a badger-backed backend.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	bopts := badger.DefaultOptions(opts.Path)
	bopts.Logger = nil
	bopts.SyncWrites = false

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, apierr.New(apierr.CodeIO, "opening badger backend", err)
	}
	return &Badger{db: db, log: opts.Logger}, nil
}

func (b *Badger) Write(_ context.Context, key string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return apierr.New(apierr.CodeIO, "badger write", err)
	}
	return b.db.Sync() // durable on return, per spec §4.1
}

func (b *Badger) Read(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apierr.New(apierr.CodeNotFound, "key "+key, err)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeIO, "badger read", err)
	}
	return out, nil
}

func (b *Badger) Remove(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return apierr.New(apierr.CodeIO, "badger remove", err)
	}
	return nil
}

func (b *Badger) List(_ context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, apierr.New(apierr.CodeIO, "badger list", err)
	}
	return keys, nil
}

func (b *Badger) Close() error {
	if err := b.db.Close(); err != nil {
		return apierr.New(apierr.CodeIO, "closing badger backend", err)
	}
	return nil
}

var _ Backend = (*Badger)(nil)
