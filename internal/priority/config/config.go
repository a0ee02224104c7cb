// Package config loads the settings shared by the ranking service and the
// command line tools. Values come from a YAML file, environment variables
// override them, and the result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gartstein/priority/internal/priority/cache"
	"github.com/gartstein/priority/internal/priority/controller"
	"github.com/gartstein/priority/internal/priority/db"
	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
var DefaultPath = filepath.Join("internal", "priority", "config", "config.yaml")

type Config struct {
	GRPCPort  int    `yaml:"grpc_port" env:"GRPC_PORT" env-default:"50051" validate:"min=1,max=65535"`
	HTTPPort  int    `yaml:"http_port" env:"HTTP_PORT" env-default:"8080" validate:"min=1,max=65535,nefield=GRPCPort"`
	AuthPort  int    `yaml:"auth_port" env:"AUTH_PORT" env-default:"8081" validate:"min=1,max=65535"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"jwt_secret" validate:"required"`

	Model    ModelConfig    `yaml:"model"`
	Features FeaturesConfig `yaml:"features"`
	Database DatabaseConfig `yaml:"database"`
	Data     DataConfig     `yaml:"data"`
	Training TrainingConfig `yaml:"training"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ModelConfig struct {
	Path string `yaml:"path" env:"MODEL_PATH" env-default:"models/priority_model.pb" validate:"required"`
	// HeuristicFormula is a CEL expression over the feature columns. Empty
	// selects the built-in formula.
	HeuristicFormula string `yaml:"heuristic_formula" env:"HEURISTIC_FORMULA"`
}

type FeaturesConfig struct {
	// ReferenceYear anchors equipment age; zero means the current year.
	ReferenceYear int     `yaml:"reference_year" env:"FEATURES_REFERENCE_YEAR" validate:"min=0"`
	AgeCap        float64 `yaml:"age_cap" env:"FEATURES_AGE_CAP" env-default:"100" validate:"gt=0"`
	DefaultAge    float64 `yaml:"default_age" env:"FEATURES_DEFAULT_AGE" env-default:"15" validate:"gte=0,ltefield=AgeCap"`
	OwnerBrand    string  `yaml:"owner_brand" env:"FEATURES_OWNER_BRAND" env-default:"SMS" validate:"required"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite" validate:"oneof=sqlite postgres"`
	// DSN is the sqlite file path or a complete postgres DSN.
	DSN         string `yaml:"dsn" env:"DB_DSN" env-default:"data/priority.db"`
	Host        string `yaml:"host" env:"DB_HOST"`
	Port        int    `yaml:"port" env:"DB_PORT" env-default:"5432" validate:"min=1,max=65535"`
	User        string `yaml:"user" env:"DB_USER"`
	Password    string `yaml:"password" env:"DB_PASSWORD"`
	Name        string `yaml:"name" env:"DB_NAME"`
	SSLMode     string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`
	OpenRetries uint64 `yaml:"open_retries" env:"DB_OPEN_RETRIES" env-default:"5"`
}

// DataConfig names loose record files. A configured equipment file makes
// the CSV files the record source instead of the database.
type DataConfig struct {
	EquipmentCSV    string `yaml:"equipment_csv" env:"EQUIPMENT_CSV"`
	RelationshipCSV string `yaml:"relationship_csv" env:"RELATIONSHIP_CSV"`
	ProcessedDir    string `yaml:"processed_dir" env:"PROCESSED_DIR" env-default:"data/processed" validate:"required"`
}

type TrainingConfig struct {
	EvalSplit float64 `yaml:"eval_split" env:"TRAIN_EVAL_SPLIT" env-default:"0.2" validate:"gt=0,lt=1"`
	TopK      int     `yaml:"top_k" env:"TRAIN_TOP_K" env-default:"20" validate:"min=1"`
	Folds     int     `yaml:"folds" env:"TRAIN_FOLDS" env-default:"5" validate:"min=2"`
}

// KafkaConfig enables event publishing and consumption when brokers are set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"priority.events" validate:"required"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"ranking-service" validate:"required"`
}

// RedisConfig enables the shared ranked-list cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" validate:"min=0"`
	Prefix   string        `yaml:"prefix" env:"REDIS_PREFIX" env-default:"priority:rankings" validate:"required"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"10m" validate:"gt=0"`
}

// Load reads path, applies environment overrides and defaults, and validates
// the result. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadConfig decodes the YAML file at path into cfg.
func loadConfig(path string, cfg *Config) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", e.ErrInvalidInput, err)
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: invalid config: %w", e.ErrInvalidInput, errors.Join(msgs...))
}

// DB returns the record store settings. A non-empty dsn replaces the
// configured DSN.
func (c *Config) DB(dsn string) *db.Config {
	d := c.Database
	if dsn == "" {
		dsn = d.DSN
	}
	return &db.Config{
		Driver:      d.Driver,
		DSN:         dsn,
		Host:        d.Host,
		Port:        d.Port,
		User:        d.User,
		Password:    d.Password,
		DBName:      d.Name,
		SSLMode:     d.SSLMode,
		OpenRetries: d.OpenRetries,
	}
}

func (c *Config) FeatureConfig() features.Config {
	fc := features.DefaultConfig()
	if c.Features.ReferenceYear > 0 {
		fc.ReferenceYear = c.Features.ReferenceYear
	}
	fc.AgeCap = c.Features.AgeCap
	fc.DefaultAge = c.Features.DefaultAge
	fc.OwnerBrand = c.Features.OwnerBrand
	return fc
}

func (c *Config) Service() controller.Config {
	return controller.Config{
		ModelPath:        c.Model.Path,
		HeuristicFormula: c.Model.HeuristicFormula,
		Features:         c.FeatureConfig(),
	}
}

func (c *Config) Cache() cache.RedisConfig {
	return cache.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// KafkaEnabled reports whether brokers are configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
