package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed builtin/*.yaml
var builtinProfilesFS embed.FS

// BuiltinProfiles returns the predefined profiles keyed by file name
// (without extension). They are compiled into the binary and serve as
// starting points for CA configuration files.
func BuiltinProfiles() (map[string]*Profile, error) {
	profiles := make(map[string]*Profile)

	entries, err := builtinProfilesFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded builtin profiles: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		data, err := builtinProfilesFS.ReadFile(path.Join("builtin", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		p, err := LoadFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}

		profiles[strings.TrimSuffix(entry.Name(), ".yaml")] = p
	}

	return profiles, nil
}

// GetBuiltinProfile returns a specific builtin profile by name.
func GetBuiltinProfile(name string) (*Profile, error) {
	profiles, err := BuiltinProfiles()
	if err != nil {
		return nil, err
	}

	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("builtin profile not found: %s", name)
	}
	return p, nil
}

// InstallBuiltinProfiles copies the builtin profile files into dir.
// If overwrite is false, existing files are not replaced.
func InstallBuiltinProfiles(dir string, overwrite bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}

	err := fs.WalkDir(builtinProfilesFS, "builtin", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := builtinProfilesFS.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		destPath := filepath.Join(dir, d.Name())
		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to install builtin profiles: %w", err)
	}
	return nil
}
