package fetch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// OriginSuffix is appended to a cached file's path to name the sidecar that
// records the URL it was downloaded from.
const OriginSuffix = ".origin"

// WriteOrigin records rawURL as the source of the cached file at path.
func WriteOrigin(path, rawURL string) error {
	if err := os.WriteFile(path+OriginSuffix, []byte(rawURL+"\n"), 0o644); err != nil {
		return fmt.Errorf("write origin: %w", err)
	}
	return nil
}

// ReadOrigin returns the URL recorded for the cached file at path, or "" when
// none was recorded.
func ReadOrigin(path string) (string, error) {
	data, err := os.ReadFile(path + OriginSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read origin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
