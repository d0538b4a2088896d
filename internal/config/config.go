package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ServiceName identifies this tool in logs and metrics.
const ServiceName = "ec2-inventory"

// Config is the immutable configuration of one inventory run. It is built
// once by Load (plus command-line overrides) and passed to every component.
// The env tag names the variable a field is read from; validation errors are
// reported using those names.
type Config struct {
	// Cluster selection.
	Region      string `env:"AWS_REGION" validate:"required"`
	ClusterName string `env:"CLUSTER_NAME" validate:"omitempty,max=128,excludesall=/\\"`
	MasterTag   string `env:"MASTER_TAG" validate:"required"`
	WorkerTag   string `env:"WORKER_TAG" validate:"required"`
	ASGName     string `env:"ASG_NAME"`

	// Cluster parameters attached to the control-plane group.
	AccountID string `env:"AWS_ACCOUNT_ID" validate:"omitempty,numeric,len=12"`
	Domain    string `env:"CLUSTER_DOMAIN" validate:"omitempty,fqdn"`
	IssuerURL string `env:"OIDC_ISSUER_URL" validate:"omitempty,url"`

	// Jump host reachability gate. An empty JumpHost disables the gate.
	JumpHost      string        `env:"JUMP_HOST" validate:"omitempty,hostname_rfc1123|ip"`
	JumpHostPort  int           `env:"JUMP_HOST_PORT" validate:"gte=1,lte=65535"`
	ProbeAttempts int           `env:"PROBE_ATTEMPTS" validate:"gte=1"`
	ProbeDelay    time.Duration `env:"PROBE_DELAY" validate:"gte=0"`
	ProbeTimeout  time.Duration `env:"PROBE_TIMEOUT" validate:"gt=0"`

	// SSH connection details handed to Ansible.
	SSHUser    string `env:"SSH_USER" validate:"required"`
	SSHKeyPath string `env:"SSH_KEY_PATH" validate:"required"`

	// Cache. A non-empty CacheS3Bucket selects the shared S3 store instead of
	// the local directory.
	CacheTTL         time.Duration `env:"CACHE_TTL" validate:"gte=0"`
	CacheDir         string        `env:"CACHE_DIR" validate:"required"`
	CacheS3Bucket    string        `env:"CACHE_S3_BUCKET"`
	CacheS3Prefix    string        `env:"CACHE_S3_PREFIX"`
	CacheS3Endpoint  string        `env:"CACHE_S3_ENDPOINT" validate:"omitempty,url"`
	CacheS3AccessKey string        `env:"CACHE_S3_ACCESS_KEY" validate:"required_with=CacheS3SecretKey"`
	CacheS3SecretKey string        `env:"CACHE_S3_SECRET_KEY" validate:"required_with=CacheS3AccessKey"`

	// External queries.
	QueryTimeout     time.Duration `env:"QUERY_TIMEOUT" validate:"gt=0"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY" validate:"gte=1,lte=64"`

	LogLevel        string `env:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	MetricsTextfile string `env:"METRICS_TEXTFILE"`
	HTTPListenAddr  string `env:"HTTP_LISTEN_ADDR" validate:"required"`

	// VarsFile optionally points at a YAML file of extra group vars; Vars
	// holds its parsed content.
	VarsFile string `env:"INVENTORY_VARS_FILE" validate:"omitempty,file"`
	Vars     ExtraVars
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := parseDuration(getEnv(key, ""), fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	integer := func(key string, fallback int) int {
		v := getEnv(key, "")
		if v == "" {
			return fallback
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return fallback
		}
		return n
	}

	cfg := &Config{
		Region:      getEnv("AWS_REGION", getEnv("AWS_DEFAULT_REGION", "eu-west-2")),
		ClusterName: getEnv("CLUSTER_NAME", ""),
		MasterTag:   getEnv("MASTER_TAG", "master"),
		WorkerTag:   getEnv("WORKER_TAG", "worker"),
		ASGName:     getEnv("ASG_NAME", ""),

		AccountID: getEnv("AWS_ACCOUNT_ID", ""),
		Domain:    getEnv("CLUSTER_DOMAIN", ""),
		IssuerURL: getEnv("OIDC_ISSUER_URL", ""),

		JumpHost:      getEnv("JUMP_HOST", ""),
		JumpHostPort:  integer("JUMP_HOST_PORT", 22),
		ProbeAttempts: integer("PROBE_ATTEMPTS", 3),
		ProbeDelay:    duration("PROBE_DELAY", 5*time.Second),
		ProbeTimeout:  duration("PROBE_TIMEOUT", 10*time.Second),

		SSHUser:    getEnv("SSH_USER", "ec2-user"),
		SSHKeyPath: expandHome(getEnv("SSH_KEY_PATH", "~/.ssh/deployer_key")),

		CacheTTL:         duration("CACHE_TTL", 300*time.Second),
		CacheDir:         getEnv("CACHE_DIR", defaultCacheDir()),
		CacheS3Bucket:    getEnv("CACHE_S3_BUCKET", ""),
		CacheS3Prefix:    getEnv("CACHE_S3_PREFIX", "ec2-inventory/"),
		CacheS3Endpoint:  getEnv("CACHE_S3_ENDPOINT", ""),
		CacheS3AccessKey: getEnv("CACHE_S3_ACCESS_KEY", ""),
		CacheS3SecretKey: getEnv("CACHE_S3_SECRET_KEY", ""),

		QueryTimeout:     duration("QUERY_TIMEOUT", 30*time.Second),
		FetchConcurrency: integer("FETCH_CONCURRENCY", 8),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		HTTPListenAddr:  getEnv("HTTP_LISTEN_ADDR", ":8095"),
		VarsFile:        getEnv("INVENTORY_VARS_FILE", ""),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks the configuration and reports every invalid field by the
// environment variable that sets it.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var missing []string
	for _, fe := range verrs {
		missing = append(missing, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(missing, ", "))
}

// CacheKey is the name of the cached document in the configured store. It
// includes the cluster name so several clusters can share one cache location.
func (c *Config) CacheKey() string {
	if c.ClusterName == "" {
		return "inventory_cache.json"
	}
	return "inventory_cache_" + c.ClusterName + ".json"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseDuration accepts either a Go duration ("5m") or a bare number of
// seconds ("300").
func parseDuration(v string, fallback time.Duration) (time.Duration, error) {
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, ServiceName)
	}
	return "/tmp/ansible_cache"
}
