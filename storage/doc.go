// Package storage implements the "storage" client type: a key/value
// service in the embedded context, used by its host through a consumer
// proxy.
//
// The child side runs a Server over a state.Store. It answers get, set and
// unset, and forwards every foreign change to the store as a "change" event
// carrying the key and the old and new values. Changes caused by the
// server's own writes are not forwarded.
//
// The parent side is a Consumer:
//
//	reg := transport.NewRegistry()
//	storage.Register(reg, nil)
//
//	t, _ := transport.NewParent(ctx, embedder, cfg, func(t *transport.Transport) {
//	    svc, _ := t.Client(storage.Type)
//	    store := svc.(*storage.Consumer)
//	    store.OnChange(func(c storage.Change) {
//	        fmt.Printf("%s: %v -> %v\n", c.Key, c.OldValue, c.NewValue)
//	    })
//	    store.Set("theme", "dark", func(_ any, err error) { ... })
//	}, transport.WithRegistry(reg))
//
// Values are stored as JSON text. Text that is not valid JSON reads back as
// the raw string.
package storage
