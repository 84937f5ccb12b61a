package envstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"danmud/internal/common/fsutil"
)

// Load reads a KEY=value file into a snapshot ordered by key.
// A missing file yields an empty snapshot.
func Load(path string) (Snapshot, error) {
	m, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read env file %s: %w", path, err)
	}
	return FromMap(m), nil
}

// Save writes s to path atomically with owner-only permissions.
func Save(path string, s Snapshot) error {
	body, err := godotenv.Marshal(s.Map())
	if err != nil {
		return fmt.Errorf("encode env file: %w", err)
	}
	if body != "" {
		body += "\n"
	}
	if err := fsutil.WriteFileAtomic(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write env file %s: %w", path, err)
	}
	return nil
}
