package verification

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sweep is one scheduled verification pass. Sweeps are loaded at startup
// from YAML files and fingerprinted for staleness detection.
type Sweep struct {
	Name        string        `yaml:"name"`
	TenantID    string        `yaml:"tenant_id"`
	Every       time.Duration // tick interval, parsed from the "every" field
	Lookback    time.Duration // window verified each tick: [now-Lookback, now)
	BatchSize   int           `yaml:"batch_size"` // 0 uses the engine default
	Fingerprint string        // SHA-256 of the raw YAML file; computed at load time
}

// rawSweep is the on-disk YAML shape.
type rawSweep struct {
	Name      string `yaml:"name"`
	TenantID  string `yaml:"tenant_id"`
	Every     string `yaml:"every"`
	Lookback  string `yaml:"lookback"`
	BatchSize int    `yaml:"batch_size"`
}

// SweepRepository defines the interface for loading verification sweeps.
type SweepRepository interface {
	// Get returns the sweep with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*Sweep, error)

	// GetSweeps returns all loaded sweeps as a slice.
	GetSweeps() []Sweep
}

// FileSystemSweepRepository loads sweeps from *.yaml files in a directory.
// Each file contains exactly one sweep at the top level. Sweeps are loaded
// once at startup and cached in memory, no hot reload.
type FileSystemSweepRepository struct {
	dir    string
	sweeps map[string]Sweep // keyed by Name
}

// NewFileSystemSweepRepository creates a new repository and eagerly loads
// all sweeps from dir. Returns an error if any sweep file is malformed.
func NewFileSystemSweepRepository(dir string) (*FileSystemSweepRepository, error) {
	repo := &FileSystemSweepRepository{
		dir:    dir,
		sweeps: make(map[string]Sweep),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemSweepRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no sweep directory, valid (zero sweeps configured)
	}
	if err != nil {
		return fmt.Errorf("verification sweep dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("verification sweep path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading verification sweep dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading sweep file %s: %w", path, err)
		}

		var raw rawSweep
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing sweep file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		if raw.TenantID == "" {
			return fmt.Errorf("sweep %q: tenant_id must not be empty", raw.Name)
		}

		every, err := time.ParseDuration(raw.Every)
		if err != nil || every <= 0 {
			return fmt.Errorf("sweep %q: invalid every %q (want a positive duration)", raw.Name, raw.Every)
		}

		lookback := 2 * every // overlap consecutive windows by default
		if raw.Lookback != "" {
			lookback, err = time.ParseDuration(raw.Lookback)
			if err != nil || lookback <= 0 {
				return fmt.Errorf("sweep %q: invalid lookback %q (want a positive duration)", raw.Name, raw.Lookback)
			}
		}

		if raw.BatchSize < 0 {
			return fmt.Errorf("sweep %q: batch_size must be >= 0", raw.Name)
		}

		if _, exists := r.sweeps[raw.Name]; exists {
			return fmt.Errorf("sweep %q: duplicate sweep name (check multiple YAML files)", raw.Name)
		}

		r.sweeps[raw.Name] = Sweep{
			Name:        raw.Name,
			TenantID:    raw.TenantID,
			Every:       every,
			Lookback:    lookback,
			BatchSize:   raw.BatchSize,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}
	return nil
}

// Get returns the sweep with the given name, or an error if not found.
func (r *FileSystemSweepRepository) Get(_ context.Context, name string) (*Sweep, error) {
	sweep, ok := r.sweeps[name]
	if !ok {
		return nil, fmt.Errorf("verification sweep %q not found", name)
	}
	return &sweep, nil
}

// GetSweeps returns all loaded sweeps as a slice.
func (r *FileSystemSweepRepository) GetSweeps() []Sweep {
	sweeps := make([]Sweep, 0, len(r.sweeps))
	for _, sweep := range r.sweeps {
		sweeps = append(sweeps, sweep)
	}
	return sweeps
}
