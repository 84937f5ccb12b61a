package variant

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Installed scans root for variant directories and returns the kinds found,
// in Kinds() order. A missing root yields an empty list.
func Installed(root string) ([]Kind, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	present := make(map[Kind]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "danmu_api_") {
			continue
		}
		k := Kind(strings.TrimPrefix(name, "danmu_api_"))
		if k.Valid() {
			present[k] = true
		}
	}
	var out []Kind
	for _, k := range Kinds() {
		if present[k] {
			out = append(out, k)
		}
	}
	return out, nil
}
