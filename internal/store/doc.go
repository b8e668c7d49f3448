// Package store persists the bot's user directory and delivery log.
//
// # Architecture
//
// Two interfaces split the surface:
//
//   - Directory: platform user to pseudonym, chat id and agent binding
//   - DeliveryLog: one record per dequeued message
//
// SQLStore implements both over database/sql. SQLite (modernc.org/sqlite) is
// the default; PostgreSQL (lib/pq) is selected with the "postgres" driver.
// Queries are written with '?' placeholders and rebound for postgres.
//
// CachedDirectory wraps any Directory with an expiring LRU so the delivery
// loop can look a user up per message without touching the database.
//
// # Migrations
//
// Migrations are embedded from internal/store/migrations/ and applied by
// goose when the store is opened.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
