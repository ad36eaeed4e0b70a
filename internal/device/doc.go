// Package device is the device directory for the door-lock gateway.
//
// The directory is the durable record of every lock the gateway knows:
// its identity, its owning user, the hash of its connection token and a
// mirror of its last reported status. It does not track live connections;
// those belong to the dispatch manager, which calls back into the Registry
// through the dispatch.Directory interface whenever a lock comes online,
// goes offline or sends a heartbeat.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────┐
//	│                   Device Directory                    │
//	│                                                       │
//	│  ┌──────────────────┐        ┌──────────────────┐    │
//	│  │     Registry     │───────▶│    Repository    │    │
//	│  │  (registry.go)   │        │ (repository.go)  │    │
//	│  │ • owner cache    │        │ • SQLite queries │    │
//	│  │ • token checks   │        │ • status mirror  │    │
//	│  └──────────────────┘        └──────────────────┘    │
//	└──────────────────────────────────────────────────────┘
//	         ▲                 ▲
//	         │                 │
//	 dispatch.Manager    session / broker adapters
//	 (status, owner)     (device authentication)
//
// # Credentials
//
// Each lock authenticates with its ID and a random token issued at
// provisioning time. Only the Argon2id hash of the token is stored.
//
// # Thread Safety
//
// Registry methods are safe for concurrent use.
package device
