// Package storage handles the on-disk side of stored files
package storage

import "path/filepath"

// GeneratePath builds the storage-relative path for a hash. The first
// splitLevels*splitChars characters become nested directories, the rest of
// the hash plus the original file's extension becomes the file name, so a
// hash of "abcdef..." with two levels of one character lands at
// "a/b/cdef....jpg".
//
// splitLevels = 0 puts everything into one flat directory. Legal, but
// directory listings get slow once the file count grows.
func GeneratePath(hash, originalFilename string, splitLevels, splitChars int) string {
	parts := make([]string, 0, splitLevels+1)

	for i := range splitLevels {
		parts = append(parts, hash[i*splitChars:(i+1)*splitChars])
	}

	parts = append(parts, hash[splitLevels*splitChars:]+filepath.Ext(originalFilename))
	return filepath.Join(parts...)
}
