package config

import (
	"fmt"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
// Nested keys map to underscores: ADBLOCK_ENGINE_CACHE_SIZE sets
// Engine.Cache.Size.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log LoggingConfig `koanf:"log"`

	Engine EngineConfig `koanf:"engine"`

	// Filters lists filter files compiled when the CLI is given none.
	Filters FiltersConfig `koanf:"filters"`

	Resources ResourcesConfig `koanf:"resources"`

	Snapshot SnapshotConfig `koanf:"snapshot"`
}

// LoggingConfig controls log verbosity: "debug", "info", "warn", or "error".
type LoggingConfig struct {
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// CacheConfig sizes the match decision cache. Zero disables caching.
type CacheConfig struct {
	Size int `koanf:"size" validate:"gte=0"`
}

// BloomConfig tunes the index pre-filter.
type BloomConfig struct {
	// FPRate is the target false-positive rate, strictly between 0 and 1.
	FPRate float64 `koanf:"fprate" validate:"fp_rate"`
}

// EngineConfig groups the knobs of a single engine instance.
type EngineConfig struct {
	Cache CacheConfig `koanf:"cache"`
	Bloom BloomConfig `koanf:"bloom"`

	// MaxBlob caps how large a serialized blob may be before deserialization
	// refuses it, e.g. "64MB".
	MaxBlob string `koanf:"maxblob" validate:"required,byte_size"`
}

// MaxBlobBytes returns MaxBlob parsed as a byte size. It returns 0 when the
// value is unparseable, which Load rejects during validation.
func (c EngineConfig) MaxBlobBytes() datasize.ByteSize {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(c.MaxBlob)); err != nil {
		return 0
	}
	return size
}

// FiltersConfig lists filter-list files.
type FiltersConfig struct {
	Lists []string `koanf:"lists" validate:"dive,required"`
}

// ResourcesConfig points at a directory of redirect resource files.
// An empty Dir disables loading.
type ResourcesConfig struct {
	Dir string `koanf:"dir"`
}

// SnapshotConfig locates the bbolt store of compiled blobs. An empty DB
// disables the store.
type SnapshotConfig struct {
	DB   string `koanf:"db"`
	Name string `koanf:"name" validate:"required_with=DB"`
}

// DEFAULT_APP_CONFIG defines the default configuration: production logging,
// a modest decision cache, a 1% bloom false-positive rate and a 64MB blob cap.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Engine: EngineConfig{
		Cache:   CacheConfig{Size: 1000},
		Bloom:   BloomConfig{FPRate: 0.01},
		MaxBlob: "64MB",
	},
	Filters:   FiltersConfig{Lists: []string{}},
	Resources: ResourcesConfig{Dir: ""},
	Snapshot:  SnapshotConfig{DB: "", Name: "default"},
}

// validFPRate accepts a probability strictly between 0 and 1.
func validFPRate(fl validator.FieldLevel) bool {
	rate := fl.Field().Float()
	return rate > 0 && rate < 1
}

// validByteSize accepts a non-zero size datasize can parse, such as "512KB".
func validByteSize(fl validator.FieldLevel) bool {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(fl.Field().String())); err != nil {
		return false
	}
	return size > 0
}

// envLoader is a function that loads environment variables with the prefix "ADBLOCK_".
// It lowercases keys, strips the prefix and maps "_" to the "." delimiter,
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "ADBLOCK_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "ADBLOCK_"))
			key = strings.ReplaceAll(key, "_", ".")
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads default configuration values into the provided Koanf instance
// using the structs provider and the DEFAULT_APP_CONFIG struct.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "fp_rate" and "byte_size" validations.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("fp_rate", validFPRate); err != nil {
		return err
	}
	return v.RegisterValidation("byte_size", validByteSize)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
