package config

import "context"

// Store holds admin-editable settings as raw strings.
// A missing key returns ("", false, nil).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}
