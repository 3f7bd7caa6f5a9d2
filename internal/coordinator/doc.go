/*
Package coordinator implements the storage coordinator that ties the vaultstore
components together.

A Coordinator owns the metadata table, the content backend, the cache, and the security,
conflict, transaction and monitoring managers. Every file operation follows the same
pattern:

 1. The session is resolved to a user through the security manager.
 2. Writers take the per-file conflict lock (non-blocking; contention fails fast).
 3. A transaction is opened for the user and records the operation.
 4. Content moves through the backend under an OS file-scope lock.
 5. The metadata table is updated and the transaction committed, or rolled back on any
    failure.
 6. The cache is refreshed. Cache failures are logged and never fail the operation.

Lifecycle:

	STARTING -> RUNNING <-> MAINTENANCE -> SHUTDOWN

Only RUNNING accepts file operations; anything else fails with INVALID_STATE. Shutdown
waits for in-flight operations, clears the cache, writes <root>/metadata.json atomically
and closes the journal and backend.

Consistency gap: a crash between a content write and the next snapshot leaves content
files without records. Recover rescans the backend and re-creates records for them.
*/
package coordinator
