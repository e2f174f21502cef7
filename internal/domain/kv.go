package domain

import "context"

// KeyValueStore is the port for durable device-local storage.
type KeyValueStore interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}
