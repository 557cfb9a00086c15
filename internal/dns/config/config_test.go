package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

func TestLoad_Defaults(t *testing.T) {
	// No env overrides
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %q", cfg.LogLevel)
	}
	if cfg.Port != 53 {
		t.Errorf("expected Port=53, got %d", cfg.Port)
	}
	if cfg.Address() != "0.0.0.0:53" {
		t.Errorf("expected Address()=0.0.0.0:53, got %q", cfg.Address())
	}
	if !cfg.TCP {
		t.Errorf("expected TCP enabled by default")
	}
	if cfg.Workers != 4 {
		t.Errorf("expected Workers=4, got %d", cfg.Workers)
	}
	if cfg.QueueSize != 65536 {
		t.Errorf("expected QueueSize=65536, got %d", cfg.QueueSize)
	}
	if cfg.MaxRecords != 2048000 {
		t.Errorf("expected MaxRecords=2048000, got %d", cfg.MaxRecords)
	}
	if cfg.CacheBuckets != 0x40000 {
		t.Errorf("expected CacheBuckets=0x40000, got %d", cfg.CacheBuckets)
	}
	if cfg.FwdZones != "" {
		t.Errorf("expected FwdZones to be empty, got %q", cfg.FwdZones)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("expected MetricsAddr to be empty, got %q", cfg.MetricsAddr)
	}
	if cfg.ZoneDir != "/etc/kdns/zone.d/" {
		t.Errorf("expected ZoneDir=/etc/kdns/zone.d/, got %q", cfg.ZoneDir)
	}
	wantDefault := []string{"1.1.1.1:53", "1.0.0.1:53"}
	if len(cfg.FwdDefault) != len(wantDefault) {
		t.Errorf("expected FwdDefault length %d, got %d", len(wantDefault), len(cfg.FwdDefault))
	} else {
		for i, v := range wantDefault {
			if cfg.FwdDefault[i] != v {
				t.Errorf("expected FwdDefault[%d]=%q, got %q", i, v, cfg.FwdDefault[i])
			}
		}
	}
	if len(cfg.Zones) != 0 {
		t.Errorf("expected Zones to be empty by default, got %v", cfg.Zones)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("DNS_ENV", "dev")
	t.Setenv("DNS_LOG_LEVEL", "debug")
	t.Setenv("DNS_LISTEN", "127.0.0.1")
	t.Setenv("DNS_PORT", "9953")
	t.Setenv("DNS_TCP", "false")
	t.Setenv("DNS_WORKERS", "8")
	t.Setenv("DNS_FWD_WORKERS", "2")
	t.Setenv("DNS_FWD_DEFAULT", "8.8.8.8:53 8.8.4.4:53")
	t.Setenv("DNS_FWD_ZONES", "corp.example@10.0.0.1,10.0.0.2:5353%lab@192.168.1.1")
	t.Setenv("DNS_MAX_ANSWER", "3")
	t.Setenv("DNS_ZONES", "example.com,example.org")
	t.Setenv("DNS_ZONE_DIR", "/tmp/zone.d/")
	t.Setenv("DNS_METRICS_ADDR", "localhost:9153")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %q", cfg.Env)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel=debug, got %q", cfg.LogLevel)
	}
	if cfg.Address() != "127.0.0.1:9953" {
		t.Errorf("expected Address()=127.0.0.1:9953, got %q", cfg.Address())
	}
	if cfg.TCP {
		t.Errorf("expected TCP disabled")
	}
	if cfg.Workers != 8 {
		t.Errorf("expected Workers=8, got %d", cfg.Workers)
	}
	if cfg.FwdWorkers != 2 {
		t.Errorf("expected FwdWorkers=2, got %d", cfg.FwdWorkers)
	}
	if cfg.FwdZones != "corp.example@10.0.0.1,10.0.0.2:5353%lab@192.168.1.1" {
		t.Errorf("expected FwdZones to be kept verbatim, got %q", cfg.FwdZones)
	}
	if cfg.MaxAnswer != 3 {
		t.Errorf("expected MaxAnswer=3, got %d", cfg.MaxAnswer)
	}
	if cfg.ZoneDir != "/tmp/zone.d/" {
		t.Errorf("expected ZoneDir=/tmp/zone.d/, got %q", cfg.ZoneDir)
	}
	if cfg.MetricsAddr != "localhost:9153" {
		t.Errorf("expected MetricsAddr=localhost:9153, got %q", cfg.MetricsAddr)
	}

	wantDefault := []string{"8.8.8.8:53", "8.8.4.4:53"}
	if len(cfg.FwdDefault) != len(wantDefault) {
		t.Errorf("expected FwdDefault length %d, got %d", len(wantDefault), len(cfg.FwdDefault))
	} else {
		for i, v := range wantDefault {
			if cfg.FwdDefault[i] != v {
				t.Errorf("expected FwdDefault[%d]=%q, got %q", i, v, cfg.FwdDefault[i])
			}
		}
	}

	wantZones := []string{"example.com", "example.org"}
	if len(cfg.Zones) != len(wantZones) {
		t.Errorf("expected Zones length %d, got %d", len(wantZones), len(cfg.Zones))
	} else {
		for i, v := range wantZones {
			if cfg.Zones[i] != v {
				t.Errorf("expected Zones[%d]=%q, got %q", i, v, cfg.Zones[i])
			}
		}
	}
}

func TestLoad_SingleValueList(t *testing.T) {
	t.Setenv("DNS_FWD_DEFAULT", "9.9.9.9:53")
	t.Setenv("DNS_ZONES", "example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if len(cfg.FwdDefault) != 1 || cfg.FwdDefault[0] != "9.9.9.9:53" {
		t.Errorf("expected FwdDefault=[9.9.9.9:53], got %v", cfg.FwdDefault)
	}
	if len(cfg.Zones) != 1 || cfg.Zones[0] != "example.com" {
		t.Errorf("expected Zones=[example.com], got %v", cfg.Zones)
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
		name  string
		key   string
		value string
	}{
		{"env", "DNS_ENV", "staging"},
		{"log level", "DNS_LOG_LEVEL", "trace"},
		{"listen", "DNS_LISTEN", "localhost"},
		{"port out of range", "DNS_PORT", "99999"},
		{"port not a number", "DNS_PORT", "not_a_number"},
		{"zero workers", "DNS_WORKERS", "0"},
		{"zero queue", "DNS_QUEUE_SIZE", "0"},
		{"zero forwarding workers", "DNS_FWD_WORKERS", "0"},
		{"negative max answer", "DNS_MAX_ANSWER", "-1"},
		{"max records below headroom", "DNS_MAX_RECORDS", "100"},
		{"zero cache buckets", "DNS_CACHE_BUCKETS", "0"},
		{"default upstream", "DNS_FWD_DEFAULT", "not_a_server"},
		{"default upstream without port", "DNS_FWD_DEFAULT", "8.8.8.8"},
		{"forward zone without servers", "DNS_FWD_ZONES", "corp.example@"},
		{"forward zone without separator", "DNS_FWD_ZONES", "corp.example"},
		{"forward zone bad port", "DNS_FWD_ZONES", "corp.example@10.0.0.1:99999"},
		{"zone name", "DNS_ZONES", "bad_zone!"},
		{"metrics address", "DNS_METRICS_ADDR", "9153"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q, got nil", tc.key, tc.value)
			}
		})
	}
}

func TestValidIPPort(t *testing.T) {
	type testCase struct {
		input    string
		expected bool
	}

	cases := []testCase{
		{"1.2.3.4:53", true},
		{"127.0.0.1:5353", true},
		{"::1:53", false}, // missing brackets for IPv6
		{"[::1]:53", true},
		{"192.168.1.1:", false},
		{":53", false},
		{"not_an_ip:53", false},
		{"1.2.3.4:notaport", false},
		{"1.2.3.4:0", false},
		{"", false},
		{"1.2.3.4", false},
		{"[::1]", false},
	}

	validate := validator.New()
	_ = validate.RegisterValidation("ip_port", validIPPort)

	for _, tc := range cases {
		// Use a struct to test the validator
		type S struct {
			Addr string `validate:"ip_port"`
		}
		s := S{Addr: tc.input}
		err := validate.Struct(s)
		if tc.expected && err != nil {
			t.Errorf("validIPPort(%q) = false, want true", tc.input)
		}
		if !tc.expected && err == nil {
			t.Errorf("validIPPort(%q) = true, want false", tc.input)
		}
	}
}

func TestValidFwdZones(t *testing.T) {
	cases := []struct {
		input    string
		expected bool
	}{
		{"", true},
		{"  ", true},
		{"example.com@8.8.8.8", true},
		{"example.com@8.8.8.8:53,8.8.4.4", true},
		{"a.example@10.0.0.1%b.example@[::1]:5353", true},
		{"example.com", false},
		{"@8.8.8.8", false},
		{"example.com@", false},
		{"example.com@8.8.8.8:99999", false},
		{"a.example@10.0.0.1%", false},
	}

	validate := validator.New()
	_ = validate.RegisterValidation("fwd_zones", validFwdZones)

	type S struct {
		Zones string `validate:"fwd_zones"`
	}
	for _, tc := range cases {
		err := validate.Struct(S{Zones: tc.input})
		if tc.expected && err != nil {
			t.Errorf("validFwdZones(%q) = false, want true", tc.input)
		}
		if !tc.expected && err == nil {
			t.Errorf("validFwdZones(%q) = true, want false", tc.input)
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

	// Compare a subset of defaults
	if cfg.Env != DEFAULT_APP_CONFIG.Env {
		t.Errorf("expected Env=%q, got %q", DEFAULT_APP_CONFIG.Env, cfg.Env)
	}
	if cfg.LogLevel != DEFAULT_APP_CONFIG.LogLevel {
		t.Errorf("expected LogLevel=%q, got %q", DEFAULT_APP_CONFIG.LogLevel, cfg.LogLevel)
	}
	if cfg.Port != DEFAULT_APP_CONFIG.Port {
		t.Errorf("expected Port=%d, got %d", DEFAULT_APP_CONFIG.Port, cfg.Port)
	}
	if cfg.FwdQueueSize != DEFAULT_APP_CONFIG.FwdQueueSize {
		t.Errorf("expected FwdQueueSize=%d, got %d", DEFAULT_APP_CONFIG.FwdQueueSize, cfg.FwdQueueSize)
	}
	if len(cfg.FwdDefault) != len(DEFAULT_APP_CONFIG.FwdDefault) {
		t.Fatalf("expected FwdDefault length %d, got %d", len(DEFAULT_APP_CONFIG.FwdDefault), len(cfg.FwdDefault))
	}
	for i, v := range DEFAULT_APP_CONFIG.FwdDefault {
		if cfg.FwdDefault[i] != v {
			t.Errorf("expected FwdDefault[%d]=%q, got %q", i, v, cfg.FwdDefault[i])
		}
	}
}

func TestDefaultLoader_InvalidDefault_ValidationFails(t *testing.T) {
	orig := DEFAULT_APP_CONFIG
	defer func() { DEFAULT_APP_CONFIG = orig }()

	DEFAULT_APP_CONFIG.FwdDefault = []string{"not_a_valid_ip_port"}

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error for invalid default FwdDefault, got nil")
	}
}
