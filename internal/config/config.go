// Package config loads the workbench.toml project manifest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jward/workbench/internal/language"
	"github.com/jward/workbench/internal/project"
	"github.com/jward/workbench/internal/syntax"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverNone   = "none"
)

// DefaultStrategy is the embedded strategy used when none is configured.
const DefaultStrategy = "scopes"

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("grammar", func(fl validator.FieldLevel) bool {
		_, ok := syntax.GrammarFor(fl.Field().String())
		return ok
	})
}

// Config is the decoded manifest.
type Config struct {
	Analysis  Analysis   `toml:"analysis"`
	Store     Store      `toml:"store"`
	Languages []Language `toml:"language" validate:"dive"`

	// Root is the directory holding the manifest; empty for defaults.
	Root string `toml:"-"`
}

type Analysis struct {
	Strategy         string `toml:"strategy" validate:"required"`
	Parallel         bool   `toml:"parallel"`
	IncludeUnchanged bool   `toml:"include_unchanged"`
	// Workers bounds parallel unit phases; 0 means GOMAXPROCS.
	Workers int `toml:"workers" validate:"gte=0"`
}

type Store struct {
	Driver string `toml:"driver" validate:"oneof=sqlite badger none"`
	Path   string `toml:"path" validate:"required_unless=Driver none"`
}

// Language is one [[language]] entry.
type Language struct {
	Name       string   `toml:"name" validate:"required"`
	Extensions []string `toml:"extensions" validate:"required,min=1,dive,required"`
	Grammar    string   `toml:"grammar" validate:"required,grammar"`
	Strategy   string   `toml:"strategy"`
	Scripts    string   `toml:"scripts"`
	// Context defaults to true; false makes the language unanalyzable.
	Context *bool `toml:"context"`
	Persist *bool `toml:"persist"`
}

// Default returns the configuration used when no manifest exists.
func Default() *Config {
	return &Config{
		Analysis: Analysis{Strategy: DefaultStrategy, Parallel: true, IncludeUnchanged: true},
		Store:    Store{Driver: DriverSQLite, Path: filepath.Join(".workbench", "analysis.db")},
	}
}

// Load decodes and validates the manifest at path.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Root = filepath.Dir(abs)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDir loads the manifest in root, falling back to Default when the
// directory has none.
func LoadDir(root string) (*Config, error) {
	path := filepath.Join(root, project.ManifestName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.Root = root
		return cfg, nil
	}
	return Load(path)
}

// Validate checks struct constraints and language uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	_, err := c.registry()
	return err
}

// StorePath returns the store location, relative paths resolved against the
// manifest root.
func (c *Config) StorePath() string {
	if c.Store.Path == "" || filepath.IsAbs(c.Store.Path) || c.Root == "" {
		return c.Store.Path
	}
	return filepath.Join(c.Root, c.Store.Path)
}

// Registry builds the language registry. Without [[language]] entries every
// bundled grammar is available.
func (c *Config) Registry() *language.Registry {
	reg, err := c.registry()
	if err != nil {
		// Validate has already rejected conflicting entries.
		panic(err)
	}
	return reg
}

func (c *Config) registry() (*language.Registry, error) {
	if len(c.Languages) == 0 {
		return language.Defaults(c.Analysis.Strategy), nil
	}
	reg := language.NewRegistry()
	for _, l := range c.Languages {
		desc := &language.Language{
			Name:       l.Name,
			Extensions: l.Extensions,
			Grammar:    l.Grammar,
			Strategy:   l.Strategy,
			ScriptsDir: l.Scripts,
		}
		if desc.Strategy == "" {
			desc.Strategy = c.Analysis.Strategy
		}
		if desc.ScriptsDir != "" && !filepath.IsAbs(desc.ScriptsDir) && c.Root != "" {
			desc.ScriptsDir = filepath.Join(c.Root, desc.ScriptsDir)
		}
		if l.Context == nil || *l.Context {
			desc.Context = &language.ContextFacet{Persist: l.Persist == nil || *l.Persist}
		}
		if err := reg.Register(desc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
