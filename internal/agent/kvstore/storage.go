// Package kvstore provides the string-keyed storage the record store is
// built on: a Storage interface with in-memory and file-backed
// implementations, plus a filesystem watcher that lets a second process
// observe changes to the file-backed store.
//
// Operations are synchronous and never fail; persistence problems in the
// file-backed implementation are logged and the in-memory state stays
// authoritative for the life of the process.
package kvstore

// Storage is a synchronous string-keyed store. Keys() returns keys in
// first-insertion order, which LoadAll relies on for its keep-last-written
// deduplication.
type Storage interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool)

	// Set stores value under key, overwriting any previous value.
	Set(key, value string)

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)

	// Keys returns all present keys in first-insertion order.
	Keys() []string
}
