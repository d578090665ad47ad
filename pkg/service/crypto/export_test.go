package crypto

import "os"

// SetSyncFile replaces the file sync step and returns a restore function
func SetSyncFile(fn func(*os.File) error) func() {
	orig := syncFile
	syncFile = fn
	return func() { syncFile = orig }
}
