// Command ec2-inventory is an Ansible dynamic inventory for a Kubernetes
// cluster running on EC2. Run with --list (the default) it prints the
// inventory document; with --host it prints one host's vars; "serve" exposes
// the same over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/rs/zerolog"

	"github.com/edvin/ec2-inventory/internal/api"
	"github.com/edvin/ec2-inventory/internal/cache"
	"github.com/edvin/ec2-inventory/internal/collector"
	"github.com/edvin/ec2-inventory/internal/config"
	"github.com/edvin/ec2-inventory/internal/inventory"
	"github.com/edvin/ec2-inventory/internal/logging"
	"github.com/edvin/ec2-inventory/internal/metrics"
	"github.com/edvin/ec2-inventory/internal/probe"
	"github.com/edvin/ec2-inventory/internal/source"
)

const usage = `usage:
  ec2-inventory [flags] [--list | --host <address>] [--refresh-cache]
  ec2-inventory [flags] <master_tag> <worker_tag> <jump_host> <asg_name>
  ec2-inventory serve [flags]

flags:
`

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "serve" {
		serve(os.Args[2:])
		return
	}
	list(os.Args[1:])
}

// list is the Ansible script entry point.
func list(args []string) {
	cfg := loadConfig()

	fs := flag.NewFlagSet("ec2-inventory", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.Bool("list", true, "Print the whole inventory (default)")
	host := fs.String("host", "", "Print the vars of one host")
	refresh := fs.Bool("refresh-cache", false, "Ignore the cached inventory")
	clusterFlags(fs, cfg)

	positional, err := parseArgs(fs, args)
	if err != nil {
		os.Exit(1)
	}
	switch len(positional) {
	case 0:
	case 4:
		cfg.MasterTag, cfg.WorkerTag, cfg.JumpHost, cfg.ASGName =
			positional[0], positional[1], positional[2], positional[3]
	default:
		fmt.Fprintf(os.Stderr, "error: expected 0 or 4 positional arguments, got %d\n", len(positional))
		fs.Usage()
		os.Exit(1)
	}

	finishConfig(cfg)
	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	synth, err := newSynthesizer(ctx, logger, cfg, m)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		os.Exit(1)
	}

	doc, err := synth.Run(ctx, inventory.RunOptions{Refresh: *refresh})
	if cfg.MetricsTextfile != "" {
		if werr := m.WriteTextfile(cfg.MetricsTextfile); werr != nil {
			logger.Warn().Err(werr).Str("path", cfg.MetricsTextfile).Msg("failed to write metrics textfile")
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("inventory synthesis failed")
		os.Exit(1)
	}

	var out any = doc
	if *host != "" {
		out = doc.HostVarsFor(*host)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode inventory")
		os.Exit(1)
	}
	os.Stdout.Write(append(data, '\n'))
}

func serve(args []string) {
	cfg := loadConfig()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.HTTPListenAddr, "listen", cfg.HTTPListenAddr, "HTTP listen address")
	clusterFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	finishConfig(cfg)
	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	synth, err := newSynthesizer(ctx, logger, cfg, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	srv := api.NewServer(logger, synth, m)

	// Synthesis may wait on the jump host probe retries, so the write
	// timeout is generous.
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting inventory server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// clusterFlags binds the cluster selection flags. Their defaults come from
// the environment, so a flag only overrides when given.
func clusterFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.ClusterName, "cluster-name", cfg.ClusterName, "Cluster name (env CLUSTER_NAME)")
	fs.StringVar(&cfg.MasterTag, "master-tag", cfg.MasterTag, "Role tag value of control-plane nodes (env MASTER_TAG)")
	fs.StringVar(&cfg.WorkerTag, "worker-tag", cfg.WorkerTag, "Role tag value of worker nodes (env WORKER_TAG)")
	fs.StringVar(&cfg.JumpHost, "jump-host", cfg.JumpHost, "Jump host address; empty disables the reachability check (env JUMP_HOST)")
	fs.StringVar(&cfg.ASGName, "asg-name", cfg.ASGName, "Worker auto scaling group (env ASG_NAME)")
	fs.StringVar(&cfg.AccountID, "account-id", cfg.AccountID, "AWS account id (env AWS_ACCOUNT_ID)")
	fs.StringVar(&cfg.Domain, "domain", cfg.Domain, "Cluster domain (env CLUSTER_DOMAIN)")
	fs.StringVar(&cfg.IssuerURL, "issuer-url", cfg.IssuerURL, "OIDC issuer URL (env OIDC_ISSUER_URL)")
	fs.StringVar(&cfg.VarsFile, "vars-file", cfg.VarsFile, "YAML file of extra group vars (env INVENTORY_VARS_FILE)")
}

// parseArgs parses flags given before and after the positional arguments,
// so both "--refresh-cache a b c d" and "a b c d --list" work.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	var positional []string
	rest := fs.Args()
	for len(rest) > 0 {
		positional = append(positional, rest[0])
		if err := fs.Parse(rest[1:]); err != nil {
			return nil, err
		}
		rest = fs.Args()
	}
	return positional, nil
}

// finishConfig loads the vars file and validates, exiting on failure.
func finishConfig(cfg *config.Config) {
	if cfg.VarsFile != "" {
		vars, err := config.LoadVarsFile(cfg.VarsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg.Vars = vars
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
}

func newSynthesizer(ctx context.Context, logger zerolog.Logger, cfg *config.Config, m *metrics.Metrics) (*inventory.Synthesizer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	src := source.New(logger, ec2.NewFromConfig(awsCfg), autoscaling.NewFromConfig(awsCfg), cfg.QueryTimeout)

	var store cache.Store
	if cfg.CacheS3Bucket != "" {
		client := cache.NewS3Client(awsCfg, cfg.CacheS3Endpoint, cfg.CacheS3AccessKey, cfg.CacheS3SecretKey)
		store = cache.NewS3Store(client, cfg.CacheS3Bucket, cfg.CacheS3Prefix)
		logger.Debug().Str("bucket", cfg.CacheS3Bucket).Msg("using s3 cache store")
	} else {
		store = cache.NewFileStore(cfg.CacheDir)
	}

	deps := inventory.Deps{
		Cache:     cache.New(logger, store, cfg.CacheKey(), cfg.CacheTTL),
		Collector: collector.New(logger, src, collector.WithConcurrency(cfg.FetchConcurrency)),
		Signals:   src,
		Metrics:   m,
	}

	if cfg.JumpHost != "" {
		prober, err := probe.NewSSHProber(cfg.JumpHost, cfg.JumpHostPort, cfg.SSHUser, cfg.SSHKeyPath, cfg.ProbeTimeout)
		if err != nil {
			return nil, fmt.Errorf("jump host probe: %w", err)
		}
		deps.Gate = probe.NewGate(logger, prober, probe.RetryPolicy{
			Attempts: cfg.ProbeAttempts,
			Delay:    cfg.ProbeDelay,
		})
	}

	return inventory.NewSynthesizer(logger, cfg, deps), nil
}
