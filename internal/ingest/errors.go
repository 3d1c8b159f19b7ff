package ingest

import "errors"

var (
	// ErrInvalidURL means the URL could not be opened or answered with an error status.
	ErrInvalidURL = errors.New("invalid url")
	// ErrDatasetDirectoryMissing means the dataset path is not an existing directory.
	ErrDatasetDirectoryMissing = errors.New("dataset directory does not exist")
)
