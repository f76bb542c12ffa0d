package domain

import "context"

// ContextStore holds per-user bounded conversation history.
//
// Append concatenates turns to the stored sequence and keeps only the most
// recent window entries. Get on an unknown key returns an empty slice.
type ContextStore interface {
	Get(ctx context.Context, key string) ([]Turn, error)
	Append(ctx context.Context, key string, turns ...Turn) error
	Reset(ctx context.Context, key string) error
	Close() error
}
