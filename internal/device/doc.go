// Package device provides the registry of LIFX devices known to the bridge.
//
// A device enters the registry when discovery emits a registration event or
// when it is listed statically in the configuration. The registry keeps
// identity and addressing (serial, host, port, label, product, firmware) so
// that devices from a previous run are brought up before the first
// discovery broadcast is answered.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                      Device Registry                      │
//	│                                                           │
//	│  ┌──────────────────┐        ┌──────────────────────────┐ │
//	│  │     Registry     │        │       Repository         │ │
//	│  │  (registry.go)   │───────▶│     (repository.go)      │ │
//	│  │ • serial cache   │        │ • lifx_devices upsert    │ │
//	│  └──────────────────┘        └──────────────────────────┘ │
//	│                                                           │
//	│  ┌──────────────────────────────────────────────────────┐ │
//	│  │ StateHistoryRepository (state_history_sqlite.go)     │ │
//	│  │ • JSON snapshots per serial, newest first, pruning   │ │
//	│  └──────────────────────────────────────────────────────┘ │
//	└───────────────────────────────────────────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := registry.RegisterDevice(ctx, device.Device{
//	    Serial: "d0:73:d5:01:02:03",
//	    Host:   "192.168.1.40",
//	})
//
// Serials are accepted in any case with ':' or '-' separators or none, and
// are stored as lower-case colon-separated octets (see NormalizeSerial).
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The SQLite repositories rely on
// database/sql for their own concurrency.
package device
