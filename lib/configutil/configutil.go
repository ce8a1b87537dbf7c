package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ReadConfig loads a json5 configuration file and, when one exists,
// merges <name>.local.<ext> over it so checked-in defaults can be
// overridden per machine without touching the tracked file. Returns
// os.ErrNotExist when neither file is present.
func ReadConfig[T any](name string) (T, error) {
	var cfg T

	found, err := readInto(&cfg, name)
	if err != nil {
		return cfg, err
	}

	var overrides T
	foundLocal, err := readInto(&overrides, localName(name))
	if err != nil {
		return cfg, err
	}
	if foundLocal {
		err = mergo.Merge(&cfg, overrides, mergo.WithOverride)
		if err != nil {
			return cfg, fmt.Errorf("merge local overrides: %w", err)
		}
		slog.Info("merging config with local overrides", "local", localName(name))
	}

	if !found && !foundLocal {
		return cfg, os.ErrNotExist
	}
	return cfg, nil
}

// reports whether the file existed. empty files count as absent, the
// same as a missing file.
func readInto[T any](out *T, path string) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}

	err = json5.Unmarshal(contents, out)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// config.json5 -> config.local.json5
func localName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// ReadRecursively looks for the named configuration file in the
// working directory, then in each parent up to the filesystem root.
// telemetry.json5 lives above individual package directories so tests
// anywhere in the tree pick up the same one.
func ReadRecursively[T any](name string) (T, error) {
	var none T

	dir, err := os.Getwd()
	if err != nil {
		return none, err
	}

	for {
		cfg, err := ReadConfig[T](filepath.Join(dir, name))
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return none, os.ErrNotExist
		}
		dir = parent
	}
}
