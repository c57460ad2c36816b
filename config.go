package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ImportConfig holds the full TOML-driven import configuration.
type ImportConfig struct {
	RemoteSchema string          `toml:"remote_schema"`
	LocalSchema  string          `toml:"local_schema"`
	Server       string          `toml:"server"`
	Case         string          `toml:"case"`     // keep|lower|smart
	Readonly     any             `toml:"readonly"` // bool, or on|yes|true|off|no|false
	Import       SelectionConfig `toml:"import"`
	Source       SourceConfig    `toml:"source"`
	Target       TargetConfig    `toml:"target"`
	Hooks        HooksConfig     `toml:"hooks"`
	Log          LogConfig       `toml:"log"`

	// configDir is the directory containing the TOML file, used to resolve relative SQL paths.
	configDir string
}

// SelectionConfig is the LIMIT TO / EXCEPT part of the import.
type SelectionConfig struct {
	Mode   string   `toml:"mode"` // all|limit_to|except
	Tables []string `toml:"tables"`
}

// SourceConfig identifies where the DB2 catalog is read from.
type SourceConfig struct {
	Type   string `toml:"type"`   // db2|sqlite|mysql
	Driver string `toml:"driver"` // database/sql driver name, db2 only
	DSN    string `toml:"dsn"`
}

type TargetConfig struct {
	DSN string `toml:"dsn"`
}

type HooksConfig struct {
	BeforeImport []string `toml:"before_import"`
	AfterImport  []string `toml:"after_import"`
}

// loadConfig reads a TOML config file and returns an ImportConfig with defaults applied.
func loadConfig(path string) (*ImportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := ImportConfig{
		LocalSchema: "public",
		Case:        "smart",
		Import:      SelectionConfig{Mode: "all"},
		Source:      SourceConfig{Type: "db2"},
		Log:         LogConfig{Level: "info"},
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve config path")
	}
	cfg.configDir = filepath.Dir(absPath)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks the configuration. It runs again after CLI overrides.
func (c *ImportConfig) validate() error {
	c.RemoteSchema = strings.TrimSpace(c.RemoteSchema)
	if c.RemoteSchema == "" {
		return fmt.Errorf("remote_schema is required")
	}
	c.LocalSchema = strings.TrimSpace(c.LocalSchema)
	if c.LocalSchema == "" {
		return fmt.Errorf("local_schema must not be empty")
	}
	c.Server = strings.TrimSpace(c.Server)
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}

	if _, err := parseCaseFold(c.Case); err != nil {
		return err
	}
	if _, err := c.readonly(); err != nil {
		return err
	}
	if _, err := c.selection(); err != nil {
		return err
	}

	if c.Source.Type == "" {
		return fmt.Errorf("source.type is required (must be db2, sqlite or mysql)")
	}
	if _, err := newCatalogSource(c.Source.Type, c.Source.Driver); err != nil {
		return err
	}
	if c.Source.Driver != "" && c.Source.Type != "db2" {
		return fmt.Errorf("source.driver is a db2-only option")
	}
	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	return nil
}

func (c *ImportConfig) selection() (SelectionPolicy, error) {
	mode, err := parseSelectionMode(c.Import.Mode)
	if err != nil {
		return SelectionPolicy{}, err
	}
	p := SelectionPolicy{Mode: mode, Tables: c.Import.Tables}
	if err := p.validate(); err != nil {
		return SelectionPolicy{}, err
	}
	return p, nil
}

func (c *ImportConfig) readonly() (bool, error) {
	switch v := c.Readonly.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return parseReadonly(v)
	default:
		return false, errors.Wrapf(ErrInvalidOption, "readonly must be a boolean or string, got %T", v)
	}
}

// parseReadonly accepts the PostgreSQL boolean option spellings.
func parseReadonly(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true":
		return true, nil
	case "off", "no", "false":
		return false, nil
	default:
		return false, errors.Wrapf(ErrInvalidOption, "readonly %q (valid values: on, yes, true, off, no, false)", s)
	}
}

// importRequest builds the request for one import from a validated config.
func (c *ImportConfig) importRequest() (*ImportRequest, error) {
	fold, err := parseCaseFold(c.Case)
	if err != nil {
		return nil, err
	}
	readonly, err := c.readonly()
	if err != nil {
		return nil, err
	}
	sel, err := c.selection()
	if err != nil {
		return nil, err
	}
	return &ImportRequest{
		RemoteSchema: c.RemoteSchema,
		LocalSchema:  c.LocalSchema,
		Server:       c.Server,
		Selection:    sel,
		Fold:         fold,
		Readonly:     readonly,
	}, nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *ImportConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.configDir == "" {
		return p
	}
	return filepath.Join(c.configDir, p)
}

// sourceDSN returns the catalog DSN. A SQLite snapshot path is relative to
// the config file.
func (c *ImportConfig) sourceDSN() string {
	if c.Source.Type == "sqlite" && c.Source.DSN != ":memory:" && !strings.HasPrefix(c.Source.DSN, "file:") {
		return c.resolvePath(c.Source.DSN)
	}
	return c.Source.DSN
}
