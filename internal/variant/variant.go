// Package variant resolves which on-disk danmu API implementation is active.
package variant

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// MarkerKey is the env/marker file key selecting the active variant.
const MarkerKey = "DANMU_API_VARIANT"

// Kind identifies a selectable server implementation.
type Kind string

const (
	Stable Kind = "stable"
	Dev    Kind = "dev"
	Custom Kind = "custom"
)

// Kinds lists every known kind in display order.
func Kinds() []Kind { return []Kind{Stable, Dev, Custom} }

// ParseKind is case-insensitive; unknown or empty values fall back to Stable.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Stable, Dev, Custom:
		return k
	default:
		return Stable
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Stable, Dev, Custom:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// DirName is the directory holding a kind's files under the variants root.
func (k Kind) DirName() string { return "danmu_api_" + string(k) }

// Variant is one resolved implementation. It is immutable once a generation
// is built from it.
type Variant struct {
	Kind    Kind
	BaseDir string
	// Entry is the absolute path of the entry module.
	Entry string
}

// Resolver maps the marker configuration to a Variant.
type Resolver struct {
	// Root holds one danmu_api_<kind> directory per installed variant.
	Root string
	// MarkerFile is a KEY=value file carrying MarkerKey.
	MarkerFile string
	// Entry is the entry module path relative to the variant base dir.
	Entry string
}

// For builds the variant for kind under the resolver root.
func (r Resolver) For(kind Kind) Variant {
	if !kind.Valid() {
		kind = Stable
	}
	base := filepath.Join(r.Root, kind.DirName())
	entry := r.Entry
	if entry == "" {
		entry = "worker.js"
	}
	return Variant{Kind: kind, BaseDir: base, Entry: filepath.Join(base, filepath.FromSlash(entry))}
}

// Resolve reads the marker file. A missing file or key selects Stable.
func (r Resolver) Resolve() (Variant, error) {
	if r.MarkerFile == "" {
		return r.For(Stable), nil
	}
	m, err := godotenv.Read(r.MarkerFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r.For(Stable), nil
		}
		return Variant{}, fmt.Errorf("read variant marker %s: %w", r.MarkerFile, err)
	}
	return r.FromEnv(m), nil
}

// FromEnv resolves the variant from an environment mapping.
func (r Resolver) FromEnv(env map[string]string) Variant {
	return r.For(ParseKind(env[MarkerKey]))
}
