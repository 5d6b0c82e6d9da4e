// Package config loads shelfdb settings from YAML or TOML files and turns
// them into an engine and a registry of declared stores.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"gopkg.in/yaml.v3"

	shelfdb "github.com/shelfdb/shelfdb.go"
	"github.com/shelfdb/shelfdb.go/pkg/engine/dynamo"
	"github.com/shelfdb/shelfdb.go/pkg/engine/memory"
	"github.com/shelfdb/shelfdb.go/pkg/engine/remote"
	"github.com/shelfdb/shelfdb.go/pkg/engine/sqlite"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

// Engine drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRemote = "remote"
	DriverDynamo = "dynamo"
)

const (
	defaultDriver    = DriverMemory
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
)

var envVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config is the whole configuration file.
type Config struct {
	Engine EngineConfig           `yaml:"engine" toml:"engine"`
	Log    LogConfig              `yaml:"log" toml:"log"`
	Stores map[string]StoreConfig `yaml:"stores" toml:"stores"`
}

// EngineConfig selects the engine every store is kept in.
type EngineConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	// Path is the database file of the sqlite driver.
	Path string `yaml:"path" toml:"path"`
	// URL is the websocket endpoint of the remote driver.
	URL         string `yaml:"url" toml:"url"`
	TablePrefix string `yaml:"table_prefix" toml:"table_prefix"`
	Region      string `yaml:"region" toml:"region"`
	// Endpoint overrides the DynamoDB endpoint, e.g. for DynamoDB Local.
	Endpoint     string `yaml:"endpoint" toml:"endpoint"`
	CreateTables bool   `yaml:"create_tables" toml:"create_tables"`

	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	// Path is a log file. Logs go to stderr when empty.
	Path   string `yaml:"path" toml:"path"`
	Format string `yaml:"format" toml:"format"`
}

// StoreConfig declares one store. Relation values are store names.
type StoreConfig struct {
	Meta       bool                  `yaml:"meta" toml:"meta"`
	Properties map[string]RuleConfig `yaml:"properties" toml:"properties"`
	HasMany    map[string]string     `yaml:"has_many" toml:"has_many"`
	HasOne     map[string]string     `yaml:"has_one" toml:"has_one"`
}

type RuleConfig struct {
	Type     string `yaml:"type" toml:"type"`
	Required bool   `yaml:"required" toml:"required"`
	Pattern  string `yaml:"pattern" toml:"pattern"`
}

var typeTags = []string{
	shelfdb.TypeString,
	shelfdb.TypeNumber,
	shelfdb.TypeBoolean,
	shelfdb.TypeDate,
	shelfdb.TypeObject,
	shelfdb.TypeArray,
}

// Load reads the file at path. Files ending in .toml are TOML, anything
// else is YAML. ${VAR_NAME} patterns are replaced with environment
// variables before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes an already expanded document and applies defaults.
func Parse(data string, isTOML bool) (*Config, error) {
	var cfg Config
	if isTOML {
		if _, err := toml.Decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.defaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func expandEnvVars(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVar.FindStringSubmatch(match)[1])
	})
}

func (c *Config) defaults() {
	if c.Engine.Driver == "" {
		c.Engine.Driver = defaultDriver
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
}

func parseDurations(cfg *Config) error {
	if cfg.Engine.TimeoutRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(cfg.Engine.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing engine.timeout %q: %w", cfg.Engine.TimeoutRaw, err)
	}
	cfg.Engine.Timeout = d
	return nil
}

// Validate returns the first problem found in c.
func (c *Config) Validate() error {
	switch c.Engine.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Engine.Path == "" {
			return fmt.Errorf("engine.path is required for the sqlite driver")
		}
	case DriverRemote:
		if c.Engine.URL == "" {
			return fmt.Errorf("engine.url is required for the remote driver")
		}
	case DriverDynamo:
		if c.Engine.Region == "" && c.Engine.Endpoint == "" {
			return fmt.Errorf("engine.region or engine.endpoint is required for the dynamo driver")
		}
	default:
		return fmt.Errorf("engine.driver %q is not supported", c.Engine.Driver)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	for _, name := range sortedKeys(c.Stores) {
		sc := c.Stores[name]
		for _, field := range sortedKeys(sc.Properties) {
			rule := sc.Properties[field]
			if rule.Type != "" && !slices.Contains(typeTags, rule.Type) {
				return fmt.Errorf("stores.%s.properties.%s.type %q is unknown", name, field, rule.Type)
			}
			if rule.Pattern != "" {
				if _, err := regexp.Compile(rule.Pattern); err != nil {
					return fmt.Errorf("stores.%s.properties.%s.pattern: %w", name, field, err)
				}
			}
		}
		for _, field := range sortedKeys(sc.HasMany) {
			if sc.HasMany[field] == "" {
				return fmt.Errorf("stores.%s.has_many.%s is required", name, field)
			}
		}
		for _, field := range sortedKeys(sc.HasOne) {
			if sc.HasOne[field] == "" {
				return fmt.Errorf("stores.%s.has_one.%s is required", name, field)
			}
		}
	}

	return nil
}

// Schema converts the declaration into the registry's form. Patterns were
// checked by Validate.
func (sc StoreConfig) Schema() shelfdb.Config {
	out := shelfdb.Config{Meta: sc.Meta}
	if len(sc.Properties) > 0 {
		out.Properties = make(map[string]shelfdb.Rule, len(sc.Properties))
		for field, rc := range sc.Properties {
			rule := shelfdb.Rule{Type: rc.Type, Required: rc.Required}
			if rc.Pattern != "" {
				rule.Pattern = regexp.MustCompile(rc.Pattern)
			}
			out.Properties[field] = rule
		}
	}
	out.HasMany = targets(sc.HasMany)
	out.HasOne = targets(sc.HasOne)
	return out
}

func targets(in map[string]string) map[string]shelfdb.Target {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]shelfdb.Target, len(in))
	for field, store := range in {
		out[field] = shelfdb.ByName(store)
	}
	return out
}

// Backend is an opened engine driver.
type Backend struct {
	Open  shelfdb.Opener
	close func(ctx context.Context) error
}

// Close releases the driver's connection or file. Stores opened from the
// backend should be closed first.
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// OpenEngine connects the configured driver.
func OpenEngine(ctx context.Context, cfg EngineConfig, log logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.Nop()
	}

	switch cfg.Driver {
	case DriverMemory, "":
		return &Backend{Open: memory.Opener(memory.WithLogger(log))}, nil

	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Path, sqlite.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Path, err)
		}
		return &Backend{
			Open: db.Opener(),
			close: func(context.Context) error {
				return db.Close()
			},
		}, nil

	case DriverRemote:
		opts := []remote.Option{remote.WithLogger(log)}
		if cfg.Timeout > 0 {
			opts = append(opts, remote.WithTimeout(cfg.Timeout))
		}
		client, err := remote.Dial(ctx, cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", cfg.URL, err)
		}
		return &Backend{Open: client.Opener(), close: client.Close}, nil

	case DriverDynamo:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
		return &Backend{Open: dynamo.Opener(client, dynamo.Config{
			TablePrefix:  cfg.TablePrefix,
			CreateTables: cfg.CreateTables,
			Logger:       log,
		})}, nil
	}

	return nil, fmt.Errorf("engine.driver %q is not supported", cfg.Driver)
}

// NewRegistry builds a registry over b and declares every configured
// store. Stores are declared in name order.
func NewRegistry(cfg *Config, b *Backend, log logger.Logger) (*shelfdb.Registry, error) {
	if log == nil {
		log = logger.Nop()
	}
	reg := shelfdb.NewRegistry(b.Open, shelfdb.WithLogger(log))

	for _, name := range sortedKeys(cfg.Stores) {
		if _, err := reg.GetOrCreate(name, cfg.Stores[name].Schema()); err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("declaring store %s: %w", name, err)
		}
		log.Debug("store declared", "store", name)
	}
	return reg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
