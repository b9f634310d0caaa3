package fsartifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
)

// candidateRoots are searched in priority order. Pipeline artifact downloads
// sometimes nest the dataset one or two levels deep.
var candidateRoots = []string{
	".",
	"aggregates",
	"aggregates/aggregates",
	"dataset",
}

// ErrNoDataset is returned when no candidate root holds a parseable manifest.
var ErrNoDataset = errors.New("no dataset manifest found")

// FindDatasetRoots returns every candidate directory under dir whose manifest
// parses as JSON, in priority order.
func FindDatasetRoots(dir string) []string {
	if _, err := os.Stat(dir); err != nil {
		slog.Warn("artifacts directory does not exist", "path", dir)
		return nil
	}

	var roots []string
	for _, candidate := range candidateRoots {
		root := filepath.Join(dir, filepath.FromSlash(candidate))
		data, err := os.ReadFile(filepath.Join(root, model.ManifestFileName))
		if err != nil {
			continue
		}

		var probe map[string]any
		if err := json.Unmarshal(data, &probe); err != nil {
			slog.Warn("ignoring unparseable manifest", "path", root, "error", err)
			continue
		}

		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		slog.Debug("found dataset root", "path", abs)
		roots = append(roots, abs)
	}
	return roots
}

// BestDatasetRoot returns the highest-priority dataset root under dir.
func BestDatasetRoot(dir string) (string, error) {
	roots := FindDatasetRoots(dir)
	if len(roots) == 0 {
		return "", fmt.Errorf("%w under %s", ErrNoDataset, dir)
	}
	return roots[0], nil
}

// ValidateDatasetRoot checks that root holds a manifest with a schema version
// and a non-empty aggregate index.
func ValidateDatasetRoot(root string) error {
	data, err := os.ReadFile(filepath.Join(root, model.ManifestFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s not found in %s", model.ManifestFileName, root)
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("invalid JSON in manifest: %w", err)
	}

	if _, ok := manifest["schema_version"]; !ok {
		return errors.New("manifest missing required field: schema_version")
	}

	var index map[string]json.RawMessage
	if raw, ok := manifest["aggregate_index"]; ok {
		if err := json.Unmarshal(raw, &index); err != nil {
			return fmt.Errorf("invalid aggregate_index: %w", err)
		}
	}
	if len(index) == 0 {
		return errors.New("manifest missing aggregate_index")
	}

	return nil
}
