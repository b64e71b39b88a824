package sqlite

import (
	"context"
	"encoding/json"

	"reviews_app/internal/domain"
)

// Unavailable is the store used when the environment has no persistent
// storage. Every operation succeeds with an empty result.
type Unavailable struct{}

var _ domain.LocalStore = Unavailable{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Put(context.Context, domain.Collection, any, ...any) error { return nil }

func (Unavailable) Add(context.Context, domain.Collection, any) (int64, error) { return 0, nil }

func (Unavailable) Get(context.Context, domain.Collection, any, any) (bool, error) {
	return false, nil
}

func (Unavailable) GetAll(_ context.Context, _ domain.Collection, dst any) error {
	return empty(dst)
}

func (Unavailable) GetAllByIndex(_ context.Context, _ domain.Collection, _ string, _ any, dst any) error {
	return empty(dst)
}

func (Unavailable) Delete(context.Context, domain.Collection, any) error { return nil }

func (Unavailable) Update(_ context.Context, fn func(tx domain.StoreTx) error) error {
	return fn(noopTx{})
}

type noopTx struct{}

func (noopTx) Put(domain.Collection, any, ...any) error { return nil }
func (noopTx) Delete(domain.Collection, any) error      { return nil }

func empty(dst any) error { return json.Unmarshal([]byte("[]"), dst) }
