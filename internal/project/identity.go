// Package project derives stable identities for indexed source trees.
//
// Two identifiers exist for every root. ID is the current scheme, computed
// over the cleaned absolute path with a versioned prefix. LegacyID is the
// hash of the raw path string as older releases stored it. Data written
// under one ID is never visible under the other unless explicitly migrated.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

const idPrefix = "ambiance:v2\x00"

// Identity names a project under both ID schemes.
type Identity struct {
	ID       string `json:"id"`
	LegacyID string `json:"legacy_id,omitempty"`
	Root     string `json:"root"`
}

// HasLegacy reports whether the legacy ID differs from the current one.
func (i Identity) HasLegacy() bool {
	return i.LegacyID != "" && i.LegacyID != i.ID
}

// Resolver turns a user-supplied path into an Identity.
type Resolver interface {
	Resolve(path string) (Identity, error)
}

// PathResolver resolves identities from the filesystem.
type PathResolver struct{}

// Resolve cleans path to an absolute directory and derives both IDs.
// The legacy ID hashes path exactly as given.
func (PathResolver) Resolve(path string) (Identity, error) {
	if path == "" {
		return Identity{}, amerrors.New(amerrors.ErrCodeInvalidPath, "project path is empty", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Identity{}, amerrors.New(amerrors.ErrCodeInvalidPath, "cannot resolve project path", err).
			WithDetail("path", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Identity{}, amerrors.New(amerrors.ErrCodeInvalidPath, "project path does not exist", err).
			WithDetail("path", abs)
	}
	if !info.IsDir() {
		return Identity{}, amerrors.New(amerrors.ErrCodeInvalidPath, "project path is not a directory", nil).
			WithDetail("path", abs)
	}
	return New(abs, path), nil
}

// New builds an Identity for an already-absolute root. raw is the path as
// the caller supplied it, used for the legacy ID; empty means root.
func New(root, raw string) Identity {
	if raw == "" {
		raw = root
	}
	return Identity{
		ID:       CurrentID(root),
		LegacyID: LegacyID(raw),
		Root:     filepath.Clean(root),
	}
}

// CurrentID hashes the cleaned, slash-separated root.
func CurrentID(root string) string {
	return hashString(idPrefix + filepath.ToSlash(filepath.Clean(root)))
}

// LegacyID hashes the raw root string.
func LegacyID(raw string) string {
	return hashString(raw)
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
