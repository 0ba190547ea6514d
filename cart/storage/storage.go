// Package storage holds the persisted cart record shared by every tab of one
// browser profile. A backend stores one opaque value per key and can signal
// writes performed by other tabs; it never interprets the record.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: record not found")

type Backend interface {
	Get(c context.Context, key string) ([]byte, error)
	Set(c context.Context, key string, value []byte) error
	Delete(c context.Context, key string) error
	// Watch registers fn for writes to key made through *other* handles of
	// the same underlying store, mirroring the browser storage event which
	// never fires in the tab that performed the write. The returned func
	// removes the watcher.
	Watch(key string, fn func(value []byte)) (stop func())
}
