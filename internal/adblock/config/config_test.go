package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected Log.Level=info, got %q", cfg.Log.Level)
	}
	if cfg.Engine.Cache.Size != 1000 {
		t.Errorf("expected Engine.Cache.Size=1000, got %d", cfg.Engine.Cache.Size)
	}
	if cfg.Engine.Bloom.FPRate != 0.01 {
		t.Errorf("expected Engine.Bloom.FPRate=0.01, got %v", cfg.Engine.Bloom.FPRate)
	}
	if cfg.Engine.MaxBlobBytes() != 64*datasize.MB {
		t.Errorf("expected MaxBlobBytes=64MB, got %v", cfg.Engine.MaxBlobBytes())
	}
	if len(cfg.Filters.Lists) != 0 {
		t.Errorf("expected no filter lists by default, got %v", cfg.Filters.Lists)
	}
	if cfg.Resources.Dir != "" {
		t.Errorf("expected empty Resources.Dir, got %q", cfg.Resources.Dir)
	}
	if cfg.Snapshot.DB != "" || cfg.Snapshot.Name != "default" {
		t.Errorf("unexpected snapshot defaults: %+v", cfg.Snapshot)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("ADBLOCK_ENV", "dev")
	t.Setenv("ADBLOCK_LOG_LEVEL", "debug")
	t.Setenv("ADBLOCK_ENGINE_CACHE_SIZE", "0")
	t.Setenv("ADBLOCK_ENGINE_BLOOM_FPRATE", "0.001")
	t.Setenv("ADBLOCK_ENGINE_MAXBLOB", "512KB")
	t.Setenv("ADBLOCK_FILTERS_LISTS", "/tmp/easylist.txt,/tmp/regional.txt")
	t.Setenv("ADBLOCK_RESOURCES_DIR", "/tmp/resources.d/")
	t.Setenv("ADBLOCK_SNAPSHOT_DB", "/tmp/snap.db")
	t.Setenv("ADBLOCK_SNAPSHOT_NAME", "regional")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %q", cfg.Env)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected Log.Level=debug, got %q", cfg.Log.Level)
	}
	if cfg.Engine.Cache.Size != 0 {
		t.Errorf("expected Engine.Cache.Size=0, got %d", cfg.Engine.Cache.Size)
	}
	if cfg.Engine.Bloom.FPRate != 0.001 {
		t.Errorf("expected Engine.Bloom.FPRate=0.001, got %v", cfg.Engine.Bloom.FPRate)
	}
	if cfg.Engine.MaxBlobBytes() != 512*datasize.KB {
		t.Errorf("expected MaxBlobBytes=512KB, got %v", cfg.Engine.MaxBlobBytes())
	}
	wantLists := []string{"/tmp/easylist.txt", "/tmp/regional.txt"}
	if len(cfg.Filters.Lists) != len(wantLists) {
		t.Fatalf("expected Filters.Lists length %d, got %d", len(wantLists), len(cfg.Filters.Lists))
	}
	for i, v := range wantLists {
		if cfg.Filters.Lists[i] != v {
			t.Errorf("expected Filters.Lists[%d]=%q, got %q", i, v, cfg.Filters.Lists[i])
		}
	}
	if cfg.Resources.Dir != "/tmp/resources.d/" {
		t.Errorf("expected Resources.Dir=/tmp/resources.d/, got %q", cfg.Resources.Dir)
	}
	if cfg.Snapshot.DB != "/tmp/snap.db" || cfg.Snapshot.Name != "regional" {
		t.Errorf("unexpected snapshot config: %+v", cfg.Snapshot)
	}
}

func TestLoad_WhenKoanfDefaultLoadFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading defaults, got nil")
	}
}

func TestLoad_WhenKoanfEnvLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading env, got nil")
	}
}

func TestLoad_RegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked validation error") {
		t.Fatal("expected error when registering validation, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"env", map[string]string{"ADBLOCK_ENV": "staging"}},
		{"log level", map[string]string{"ADBLOCK_LOG_LEVEL": "trace"}},
		{"negative cache", map[string]string{"ADBLOCK_ENGINE_CACHE_SIZE": "-1"}},
		{"cache NaN", map[string]string{"ADBLOCK_ENGINE_CACHE_SIZE": "lots"}},
		{"fp rate zero", map[string]string{"ADBLOCK_ENGINE_BLOOM_FPRATE": "0"}},
		{"fp rate one", map[string]string{"ADBLOCK_ENGINE_BLOOM_FPRATE": "1"}},
		{"max blob unparseable", map[string]string{"ADBLOCK_ENGINE_MAXBLOB": "huge"}},
		{"max blob zero", map[string]string{"ADBLOCK_ENGINE_MAXBLOB": "0B"}},
		{"snapshot without name", map[string]string{"ADBLOCK_SNAPSHOT_DB": "/tmp/x.db", "ADBLOCK_SNAPSHOT_NAME": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestValidFPRate(t *testing.T) {
	cases := []struct {
		input    float64
		expected bool
	}{
		{0.01, true},
		{0.5, true},
		{0.999, true},
		{0, false},
		{1, false},
		{-0.1, false},
		{1.5, false},
	}

	validate := validator.New()
	_ = validate.RegisterValidation("fp_rate", validFPRate)

	for _, tc := range cases {
		type S struct {
			Rate float64 `validate:"fp_rate"`
		}
		err := validate.Struct(S{Rate: tc.input})
		if tc.expected && err != nil {
			t.Errorf("validFPRate(%v) = false, want true", tc.input)
		}
		if !tc.expected && err == nil {
			t.Errorf("validFPRate(%v) = true, want false", tc.input)
		}
	}
}

func TestValidByteSize(t *testing.T) {
	cases := []struct {
		input    string
		expected bool
	}{
		{"64MB", true},
		{"1KB", true},
		{"10", true},
		{"", false},
		{"0", false},
		{"lots", false},
	}

	validate := validator.New()
	_ = validate.RegisterValidation("byte_size", validByteSize)

	for _, tc := range cases {
		type S struct {
			Size string `validate:"byte_size"`
		}
		err := validate.Struct(S{Size: tc.input})
		if tc.expected && err != nil {
			t.Errorf("validByteSize(%q) = false, want true", tc.input)
		}
		if !tc.expected && err == nil {
			t.Errorf("validByteSize(%q) = true, want false", tc.input)
		}
	}
}

func TestDefaultLoader_LoadsDefaults(t *testing.T) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		t.Fatalf("defaultLoader returned error: %v", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if cfg.Env != DEFAULT_APP_CONFIG.Env {
		t.Errorf("expected Env=%q, got %q", DEFAULT_APP_CONFIG.Env, cfg.Env)
	}
	if cfg.Log.Level != DEFAULT_APP_CONFIG.Log.Level {
		t.Errorf("expected Log.Level=%q, got %q", DEFAULT_APP_CONFIG.Log.Level, cfg.Log.Level)
	}
	if cfg.Engine.MaxBlob != DEFAULT_APP_CONFIG.Engine.MaxBlob {
		t.Errorf("expected Engine.MaxBlob=%q, got %q", DEFAULT_APP_CONFIG.Engine.MaxBlob, cfg.Engine.MaxBlob)
	}
}

func TestDefaultLoader_InvalidDefault_ValidationFails(t *testing.T) {
	orig := DEFAULT_APP_CONFIG
	defer func() { DEFAULT_APP_CONFIG = orig }()

	DEFAULT_APP_CONFIG = AppConfig{
		Env: "prod",
		Log: LoggingConfig{Level: "info"},
		Engine: EngineConfig{
			Cache:   CacheConfig{Size: 10},
			Bloom:   BloomConfig{FPRate: 2},
			MaxBlob: "1MB",
		},
		Snapshot: SnapshotConfig{Name: "default"},
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for out-of-range default FPRate")
	}
}
