package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/kdns/internal/dns/services/forwarder"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Listen is the IP address the UDP and TCP listeners bind to.
	Listen string `koanf:"listen" validate:"required,ip"`

	// Port is the network port the DNS server will bind to.
	Port int `koanf:"port" validate:"required,gte=1,lt=65535"`

	// TCP enables the TCP listener next to UDP.
	TCP bool `koanf:"tcp"`

	// Workers is the number of query-processing cores.
	Workers int `koanf:"workers" validate:"required,gte=1,lte=256"`

	// CoreQueue bounds the packets waiting on each core.
	CoreQueue int `koanf:"core_queue" validate:"required,gte=1"`

	// QueueSize bounds the replication queue of the administrative intake.
	QueueSize int `koanf:"queue_size" validate:"required,gte=1"`

	// FwdWorkers is the number of forwarding workers.
	FwdWorkers int `koanf:"fwd_workers" validate:"required,gte=1"`

	// FwdQueueSize bounds the forwarding job queue.
	FwdQueueSize int `koanf:"fwd_queue_size" validate:"required,gte=1"`

	// FwdZones maps domain suffixes to upstreams: "zone@ip[:port],ip%zone2@ip".
	FwdZones string `koanf:"fwd_zones" validate:"fwd_zones"`

	// FwdDefault lists the upstream servers used when no forward zone matches.
	FwdDefault []string `koanf:"fwd_default" validate:"required,min=1,dive,ip_port"`

	// CacheBuckets is the bucket count of the forward cache.
	CacheBuckets int `koanf:"cache_buckets" validate:"required,gte=1"`

	// MaxAnswer caps records per RRset in a response; zero is unlimited.
	MaxAnswer int `koanf:"max_answer" validate:"gte=0"`

	// MaxRecords is the administrative table capacity.
	MaxRecords int `koanf:"max_records" validate:"required,gte=101"`

	// ZoneDir is the directory zone files are seeded from. Empty disables seeding.
	ZoneDir string `koanf:"zone_dir"`

	// Zones lists authoritative zone apexes in addition to those found in ZoneDir.
	Zones []string `koanf:"zones" validate:"dive,fqdn|hostname_rfc1123"`

	// MetricsAddr is the host:port of the prometheus endpoint. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,hostname_port"`
}

// DEFAULT_APP_CONFIG defines the default application configuration settings for the DNS service.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:          "prod",
	LogLevel:     "info",
	Listen:       "0.0.0.0",
	Port:         53,
	TCP:          true,
	Workers:      4,
	CoreQueue:    1024,
	QueueSize:    65536,
	FwdWorkers:   4,
	FwdQueueSize: 4096,
	FwdZones:     "",
	FwdDefault:   []string{"1.1.1.1:53", "1.0.0.1:53"},
	CacheBuckets: 0x40000,
	MaxAnswer:    0,
	MaxRecords:   2048000,
	ZoneDir:      "/etc/kdns/zone.d/",
	Zones:        []string{},
	MetricsAddr:  "",
}

// Address returns the listen address in host:port form.
func (c *AppConfig) Address() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}

// validIPPort validates whether the provided field value is a valid IP address and port combination.
// It expects the value to be in the format "IP:Port". The function returns true if the IP address
// is valid and both the IP and port are non-empty; otherwise, it returns false.
func validIPPort(fl validator.FieldLevel) bool {
	// stringify the field value to get the IP:Port format.
	addr := fl.Field().String()
	// Split the address into IP and port.
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	// Check if the IP address is valid.
	if net.ParseIP(ip) == nil {
		return false
	}
	// Check if the port is a valid number between 1 and 65535.
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// validFwdZones accepts an empty value or a forward-zone list the forwarder
// can parse.
func validFwdZones(fl validator.FieldLevel) bool {
	zoneList := strings.TrimSpace(fl.Field().String())
	if zoneList == "" {
		return true
	}
	_, err := forwarder.ParsePolicySize(zoneList, []string{"127.0.0.1"}, 1)
	return err == nil
}

// unsplitKeys are taken verbatim from the environment because their values
// carry commas of their own.
var unsplitKeys = map[string]bool{
	"fwd_zones": true,
}

// envLoader is a function that loads environment variables with the prefix "DNS_".
// It transforms the keys to lowercase and removes the prefix.
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	// Load environment variables with prefix "DNS_".
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "DNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "DNS_"))
			value = strings.TrimSpace(value)

			if value == "" || unsplitKeys[key] {
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
// using the structs provider and the DEFAULT_APP_CONFIG struct. It returns an error
// if loading fails.
var defaultLoader = func(k *koanf.Koanf) error {
	// Load default values using structs provider.
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "ip_port" and "fwd_zones" tags with the
// provided validator. Returns an error if registration fails.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("fwd_zones", validFwdZones)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	// Load default values using structs provider.
	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	// Load environment variables with prefix "DNS_", using koanf/providers/env/v2 and Opt pattern.
	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	// Unmarshal the loaded configuration into AppConfig struct.
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Validate the configuration.
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Register the custom validation functions.
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
