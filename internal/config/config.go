// Package config loads meshtrace settings.
//
// Settings come from a YAML file, then from a .env file next to it, then
// from the process environment, each layer overriding the previous one. The
// merged result is checked against an embedded CUE schema before any
// component runs.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/roach88/meshtrace/internal/fault"
	"github.com/roach88/meshtrace/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// Defaults for the analysis block.
const (
	DefaultReferenceTablet = "laptop"
	DefaultSyncWindow      = "30s"
	DefaultFileNameSuffix  = ".instance.sam.magdaa"
)

// Environment variables overriding file values.
const (
	EnvDriver   = "MESHTRACE_DB_DRIVER"
	EnvPath     = "MESHTRACE_DB_PATH"
	EnvHost     = "MESHTRACE_DB_HOST"
	EnvPort     = "MESHTRACE_DB_PORT"
	EnvDatabase = "MESHTRACE_DB_NAME"
	EnvUser     = "MESHTRACE_DB_USER"
	EnvPassword = "MESHTRACE_DB_PASSWORD"
	EnvSSLMode  = "MESHTRACE_DB_SSLMODE"
	EnvTable    = "MESHTRACE_TABLE"
)

// Config is the complete meshtrace configuration.
type Config struct {
	DB       DB       `yaml:"db" json:"db"`
	Analysis Analysis `yaml:"analysis" json:"analysis"`
}

// DB describes the shared store connection.
type DB struct {
	Driver   string `yaml:"driver" json:"driver"`
	Path     string `yaml:"path" json:"path,omitempty"`
	Host     string `yaml:"host" json:"host,omitempty"`
	Port     int    `yaml:"port" json:"port,omitempty"`
	Database string `yaml:"database" json:"database,omitempty"`
	User     string `yaml:"user" json:"user,omitempty"`
	Password string `yaml:"password" json:"password,omitempty"`
	SSLMode  string `yaml:"sslmode" json:"sslmode,omitempty"`
}

// Analysis holds the settings shared by the analysis commands.
type Analysis struct {
	Table           string `yaml:"table" json:"table"`
	ReferenceTablet string `yaml:"reference_tablet" json:"reference_tablet"`
	SyncWindow      string `yaml:"sync_window" json:"sync_window"`
	FileNameSuffix  string `yaml:"file_name_suffix" json:"file_name_suffix"`
	SurveyExt       string `yaml:"survey_ext" json:"survey_ext,omitempty"`
}

// Default returns a Config with every defaultable field set.
func Default() *Config {
	return &Config{
		DB: DB{Driver: string(store.DialectSQLite)},
		Analysis: Analysis{
			ReferenceTablet: DefaultReferenceTablet,
			SyncWindow:      DefaultSyncWindow,
			FileNameSuffix:  DefaultFileNameSuffix,
		},
	}
}

// Loader reads configuration from a filesystem and an environment.
type Loader struct {
	fs        afero.Fs
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a Loader. A nil fs means the OS filesystem and a nil
// lookup means os.LookupEnv.
func NewLoader(fsys afero.Fs, lookup func(string) (string, bool)) *Loader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Loader{fs: fsys, lookupEnv: lookup}
}

// Load reads the YAML file at path over the defaults, then applies the .env
// file in the same directory (if any) and the process environment. An empty
// path skips the YAML file and looks for .env in the working directory.
//
// Load does not validate; call Validate after applying command-line
// overrides.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	dir := "."
	if path != "" {
		data, err := afero.ReadFile(l.fs, path)
		if err != nil {
			return nil, fault.Wrap(fault.KindConfiguration, "config", "unable to read config file", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true) // Reject unknown fields
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fault.Wrap(fault.KindConfiguration, "config", "failed to parse YAML", err)
		}
		dir = filepath.Dir(path)
	}

	dotenv, err := l.readDotEnv(filepath.Join(dir, ".env"))
	if err != nil {
		return nil, err
	}

	lookup := func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readDotEnv parses a .env file. A missing file yields no variables.
func (l *Loader) readDotEnv(path string) (map[string]string, error) {
	f, err := l.fs.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config", "unable to read .env file", err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config", "failed to parse .env file", err)
	}
	return vars, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	set(EnvDriver, &c.DB.Driver)
	set(EnvPath, &c.DB.Path)
	set(EnvHost, &c.DB.Host)
	set(EnvDatabase, &c.DB.Database)
	set(EnvUser, &c.DB.User)
	set(EnvPassword, &c.DB.Password)
	set(EnvSSLMode, &c.DB.SSLMode)
	set(EnvTable, &c.Analysis.Table)

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fault.Newf(fault.KindConfiguration, "config", "%s must be a number, got %q", EnvPort, v)
		}
		c.DB.Port = port
	}
	return nil
}

// Validate checks the configuration against the schema. Any violation,
// including a missing connection key, is a fault.KindConfiguration error.
func (c *Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fault.Wrap(fault.KindConfiguration, "config", "unable to encode configuration", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fault.Wrap(fault.KindConfiguration, "config", "invalid configuration", err)
	}

	if _, err := time.ParseDuration(c.Analysis.SyncWindow); err != nil {
		return fault.Wrap(fault.KindConfiguration, "config", "invalid sync_window", err)
	}
	return nil
}

// Window returns the parsed sync window. Invalid or non-positive values fall
// back to the default.
func (a Analysis) Window() time.Duration {
	d, err := time.ParseDuration(a.SyncWindow)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultSyncWindow)
	}
	return d
}

// Store returns the store connection settings.
func (c *Config) Store() store.Config {
	return store.Config{
		Driver:   store.Dialect(c.DB.Driver),
		Path:     c.DB.Path,
		Host:     c.DB.Host,
		Port:     c.DB.Port,
		Database: c.DB.Database,
		User:     c.DB.User,
		Password: c.DB.Password,
		SSLMode:  c.DB.SSLMode,
	}
}
