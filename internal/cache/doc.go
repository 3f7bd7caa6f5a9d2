/*
Package cache provides the in-memory byte cache that sits in front of file content.

Entries are keyed by file identifier and kept in a doubly linked list ordered from most to
least recently used:

	Put ──► [MRU] k9 ⇄ k4 ⇄ k1 ⇄ ... ⇄ k7 [LRU] ──► evicted when full
	Get ──► hit moves the entry to the MRU end

Each entry records its insertion time, last access time, access count and whether its bytes
are zstd compressed. An entry older than the TTL, measured from insertion, is dropped the
next time it is read; there is no background sweeper.

The cache is never authoritative: a miss always falls back to the storage backend.

# Usage

	c, err := cache.New(&cache.Config{Capacity: 1000, TTL: time.Hour})
	if err != nil {
		return err
	}
	if err := c.Put(fileID, data, true); err != nil {
		// compression failed, nothing was cached
	}
	if data, ok := c.Get(fileID); ok {
		...
	}
*/
package cache
