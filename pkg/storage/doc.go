// Package storage provides the persistence contract for snapshot objects.
//
// This package currently ships a local file system backend (localfs).
// Remote object stores can substitute for it behind the same Store
// interface without changing callers.
package storage
