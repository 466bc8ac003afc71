/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package file

import "github.com/spf13/afero"

// Writer is a wrapper around afero.Afero,
// providing a simple interface for writing files.
type Writer struct {
	fs       afero.Afero
	filename string
}

// New returns a new Writer for the given filename on the given file
// system.
//
// Returns nil if filename is empty.
func New(fs afero.Fs, filename string) *Writer {
	if filename == "" {
		return nil
	}

	return &Writer{
		fs:       afero.Afero{Fs: fs},
		filename: filename,
	}
}

// Write writes the given data to the file.
func (f *Writer) Write(data []byte) error {
	return f.fs.WriteFile(f.filename, data, 0o644)
}

// Name returns the filename.
func (f *Writer) Name() string {
	return f.filename
}
