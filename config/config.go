// Package config loads the publisher's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ruteri/s3-resource-publisher/awsclient"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/target"
	"gopkg.in/yaml.v3"
)

// DefaultCatalogPath is used when the catalog section is omitted.
const DefaultCatalogPath = "catalog.db"

// Config is the top-level configuration.
type Config struct {
	// AWS is shared by every S3 store and target unless a storage URI
	// overrides region or endpoint.
	AWS awsclient.Config `yaml:"aws"`

	Catalog CatalogConfig `yaml:"catalog"`

	// TempDir holds import spool files. Empty means the system default.
	TempDir string `yaml:"tempDir"`

	Storages    map[string]StorageConfig    `yaml:"storages"`
	Targets     map[string]target.Config    `yaml:"targets"`
	Collections map[string]CollectionConfig `yaml:"collections"`
}

type CatalogConfig struct {
	// Path of the bbolt file. ":memory:" keeps the catalog in process.
	Path string `yaml:"path"`
}

// StorageConfig locates one content-addressable store, e.g.
// s3://bucket/prefix?region=eu-west-1 or file:///var/lib/resources.
type StorageConfig struct {
	URI string `yaml:"uri"`
	// Initialize creates the bucket of an S3 store at startup.
	Initialize bool `yaml:"initialize"`
	// Mirrors are location URIs of stores that receive a copy of every
	// imported blob and serve reads the primary cannot.
	Mirrors []string `yaml:"mirrors"`
}

// CollectionConfig binds a collection to its storage and target.
type CollectionConfig struct {
	Storage string `yaml:"storage"`
	Target  string `yaml:"target"`
	// StaticPaths maps publication prefixes to local directories.
	StaticPaths map[string]string `yaml:"staticPaths"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", interfaces.ErrConfiguration, err)
	}

	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = DefaultCatalogPath
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = awsclient.DefaultRegion
	}
	for name, t := range cfg.Targets {
		t.Name = name
		if t.Region == "" {
			t.Region = cfg.AWS.Region
		}
		cfg.Targets[name] = t
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross references between sections.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range sortedKeys(c.Storages) {
		sc := c.Storages[name]
		if sc.URI == "" {
			errs = append(errs, fmt.Errorf("storage %q has no uri", name))
		}
		for i, mirror := range sc.Mirrors {
			if mirror == "" || mirror == sc.URI {
				errs = append(errs, fmt.Errorf("storage %q: mirror %d must be a different location", name, i))
			}
		}
	}
	for _, name := range sortedKeys(c.Targets) {
		if c.Targets[name].BucketName == "" {
			errs = append(errs, fmt.Errorf("target %q has no bucketName", name))
		}
	}
	if len(c.Collections) == 0 {
		errs = append(errs, errors.New("no collections configured"))
	}
	for _, name := range sortedKeys(c.Collections) {
		col := c.Collections[name]
		switch {
		case col.Storage == "" && len(col.StaticPaths) == 0:
			errs = append(errs, fmt.Errorf("collection %q needs a storage or staticPaths", name))
		case col.Storage != "":
			if _, ok := c.Storages[col.Storage]; !ok {
				errs = append(errs, fmt.Errorf("collection %q references unknown storage %q", name, col.Storage))
			}
		}
		if col.Target != "" {
			if _, ok := c.Targets[col.Target]; !ok {
				errs = append(errs, fmt.Errorf("collection %q references unknown target %q", name, col.Target))
			}
		} else if len(col.StaticPaths) > 0 {
			errs = append(errs, fmt.Errorf("collection %q has staticPaths but no target", name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrConfiguration, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
