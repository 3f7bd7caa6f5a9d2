/*
Package types holds the data model shared by every vaultstore component: security levels,
file records, cache statistics, security events and system metrics, together with the
Backend and Journal contracts that the coordinator depends on.

	┌─────────────────────────────────────────────┐
	│              pkg/vault (facade)             │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          internal/coordinator               │
	└─────────────────────────────────────────────┘
	   │         │          │          │        │
	┌──┴───┐ ┌───┴────┐ ┌───┴────┐ ┌───┴──┐ ┌───┴──────┐
	│cache │ │security│ │conflict│ │ txn  │ │monitoring│
	└──────┘ └────────┘ └────────┘ └──────┘ └──────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   Backend (local disk, S3)   Journal (badger)│
	└─────────────────────────────────────────────┘

FileRecord serializes to the metadata.json snapshot format: path, created, modified
(RFC 3339), security_level (0-3), checksum (hex) and size.
*/
package types
