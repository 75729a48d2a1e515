package auth

import "context"

type storeContextKey struct{}

// ContextWithStore stores the session's auth store in context.
func ContextWithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// StoreFromContext extracts the auth store from context.
func StoreFromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeContextKey{}).(*Store)
	return store
}

type snapshotContextKey struct{}

// ContextWithSnapshot records the snapshot a navigation was admitted on.
func ContextWithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, snap)
}

// SnapshotFromContext returns the admitted snapshot, falling back to the live
// state of the store in ctx. The zero Snapshot is returned when neither exists.
func SnapshotFromContext(ctx context.Context) Snapshot {
	if snap, ok := ctx.Value(snapshotContextKey{}).(Snapshot); ok {
		return snap
	}
	if store := StoreFromContext(ctx); store != nil {
		return store.Snapshot()
	}
	return Snapshot{}
}
