// Package config loads project configuration from paramspace.yaml with
// PARAMSPACE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up by Discover.
const FileName = "paramspace.yaml"

// ErrNoProject is returned by Discover when no configuration file is found.
var ErrNoProject = errors.New("config: no paramspace.yaml found")

// Index driver names.
const (
	IndexFS       = "fs"
	IndexSQLite   = "sqlite"
	IndexPostgres = "postgres"
)

// Config describes one project.
type Config struct {
	ProjectID       string      `yaml:"project"`
	Root            string      `yaml:"root,omitempty"`
	WorkspaceDir    string      `yaml:"workspace_dir"`
	ManifestName    string      `yaml:"manifest_name"`
	ViewPrefix      string      `yaml:"view_prefix"`
	MissingSentinel string      `yaml:"missing_sentinel"`
	MaxDepth        int         `yaml:"max_depth" validate:"gte=0"`
	RegistryKey     string      `yaml:"registry_key"`
	Index           IndexConfig `yaml:"index"`
	Blob            BlobConfig  `yaml:"blob"`
}

// IndexConfig selects the job index backend.
type IndexConfig struct {
	Driver      string `yaml:"driver" validate:"omitempty,oneof=fs sqlite postgres"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty" validate:"required_if=Driver postgres"`
}

// BlobConfig selects the blob store holding statepoint registry documents.
type BlobConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root,omitempty"`
	S3     S3Config `yaml:"s3,omitempty"`
}

// S3Config holds S3 / MinIO connection settings. Credentials come from the
// default AWS chain.
type S3Config struct {
	Bucket    string `yaml:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// Defaults returns the configuration used for keys missing from the file.
func Defaults() Config {
	return Config{
		WorkspaceDir:    "workspace",
		ManifestName:    "statepoint.json",
		ViewPrefix:      "view",
		MissingSentinel: "__missing__",
		MaxDepth:        64,
		RegistryKey:     "statepoints.json",
		Index:           IndexConfig{Driver: IndexFS, SQLitePath: filepath.Join(".paramspace", "index.db")},
		Blob:            BlobConfig{Driver: "fs", FSRoot: filepath.Join(".paramspace", "blobs")},
	}
}

// Discover walks from start towards the filesystem root and returns the first
// paramspace.yaml found.
func Discover(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, FileName)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (searched upwards from %s)", ErrNoProject, start)
		}
		dir = parent
	}
}

// Load reads path over Defaults. An empty root is the file's directory and a
// relative root is resolved against it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Config{}, err
	}
	switch {
	case cfg.Root == "":
		cfg.Root = base
	case !filepath.IsAbs(cfg.Root):
		cfg.Root = filepath.Join(base, cfg.Root)
	}
	return cfg, nil
}

// Save writes cfg to path. It refuses to replace an existing file.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ApplyEnv overrides cfg with PARAMSPACE_* variables read through getenv.
// Pass os.Getenv in production.
//
//	PARAMSPACE_PROJECT_ID, PARAMSPACE_ROOT, PARAMSPACE_WORKSPACE_DIR
//	PARAMSPACE_MAX_DEPTH
//	PARAMSPACE_INDEX_DRIVER: fs|sqlite|postgres
//	PARAMSPACE_INDEX_SQLITE_PATH, PARAMSPACE_INDEX_POSTGRES_DSN
//	PARAMSPACE_BLOB_DRIVER: fs|s3|memory
//	PARAMSPACE_BLOB_FS_ROOT
//	PARAMSPACE_BLOB_S3_BUCKET, PARAMSPACE_BLOB_S3_REGION,
//	PARAMSPACE_BLOB_S3_ENDPOINT, PARAMSPACE_BLOB_S3_PATH_STYLE
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	set := func(dst *string, name string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	set(&cfg.ProjectID, "PARAMSPACE_PROJECT_ID")
	set(&cfg.Root, "PARAMSPACE_ROOT")
	set(&cfg.WorkspaceDir, "PARAMSPACE_WORKSPACE_DIR")
	set(&cfg.Index.Driver, "PARAMSPACE_INDEX_DRIVER")
	set(&cfg.Index.SQLitePath, "PARAMSPACE_INDEX_SQLITE_PATH")
	set(&cfg.Index.PostgresDSN, "PARAMSPACE_INDEX_POSTGRES_DSN")
	set(&cfg.Blob.Driver, "PARAMSPACE_BLOB_DRIVER")
	set(&cfg.Blob.FSRoot, "PARAMSPACE_BLOB_FS_ROOT")
	set(&cfg.Blob.S3.Bucket, "PARAMSPACE_BLOB_S3_BUCKET")
	set(&cfg.Blob.S3.Region, "PARAMSPACE_BLOB_S3_REGION")
	set(&cfg.Blob.S3.Endpoint, "PARAMSPACE_BLOB_S3_ENDPOINT")
	if v := getenv("PARAMSPACE_BLOB_S3_PATH_STYLE"); v != "" {
		cfg.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v := getenv("PARAMSPACE_MAX_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("PARAMSPACE_MAX_DEPTH: invalid value %q", v)
		}
		cfg.MaxDepth = n
	}
	return cfg, nil
}

// configValidate reports field names as they appear in paramspace.yaml.
var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports settings that cannot be used to open a project.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	msgs := make([]string, 0, len(fields))
	for _, fe := range fields {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s: unknown value %q (want one of %s)", name, fe.Value(), fe.Param())
	case "required_if":
		field, value, _ := strings.Cut(fe.Param(), " ")
		return fmt.Sprintf("%s required when %s is %s", name, strings.ToLower(field), value)
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", name, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s", name, fe.Tag())
	}
}

// Resolve returns p unchanged if absolute, otherwise joined to the project
// root.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
