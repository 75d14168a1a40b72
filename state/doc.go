// Package state provides key/value stores with native change notification,
// the persistence layer behind the storage services.
//
// Every write returns the revision of the change notification it will
// cause, so a writer can recognise its own changes when they come back on a
// watch. Watchers see every change, including the writer's own.
//
// # Backends
//
//   - MemoryStore: in-process, for tests and single-process deployments
//   - NATSStore: NATS JetStream KV, shared between processes
//
// # Usage
//
//	store := state.NewMemoryStore()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	ch, _ := store.Watch(ctx, "*")
//
//	rev, _ := store.Put("theme", []byte(`"dark"`))
//	for kv := range ch {
//	    fmt.Printf("%s: %s -> %s (rev %d)\n", kv.Key, kv.Previous, kv.Value, kv.Revision)
//	}
package state
