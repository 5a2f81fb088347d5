//go:build windows

package cmd

// ensureLargeNumOpenFiles doesn't need to do anything on Windows
func ensureLargeNumOpenFiles() {
	// Nothing to do.
}
