//go:build !unix

package local

import "os"

// Platforms without flock rely on the conflict manager alone to serialize writers.

func lockExclusive(*os.File) error { return nil }

func lockShared(*os.File) error { return nil }

func unlock(*os.File) error { return nil }
