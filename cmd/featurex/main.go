package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sibilytics/featurex/pkg/client"
	"github.com/sibilytics/featurex/pkg/config"
	"github.com/sibilytics/featurex/pkg/server"
)

func main() {
	// Dispatch subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServeCmd(os.Args[2:])
			return
		case "check":
			runCheckCmd(os.Args[2:])
			return
		}
	}

	// Default behavior is serving the API.
	runServeCmd(os.Args[1:])
}

// Flags holds pointers to all supported CLI flags.
type Flags struct {
	ConfigFile  *string
	WriteConfig *string

	ListenAddr *string
	CacheDir   *string
	ModelDir   *string
	LogLevel   *string
	LogJSON    *bool
}

func SetupFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	f.ConfigFile = fs.String("config", "", "Path to configuration file (disables other flags)")
	f.WriteConfig = fs.String("write-config", "", "Save the effective configuration to this YAML file")

	f.ListenAddr = fs.String("listen", ":8000", "HTTP listen address")
	f.CacheDir = fs.String("cache-dir", "/tmp/upload_cache", "Directory for cached uploads")
	f.ModelDir = fs.String("model-dir", "/tmp/ann_models", "Directory for trained models")
	f.LogLevel = fs.String("log-level", "info", "Log level: debug, info, warn, error")
	f.LogJSON = fs.Bool("log-json", false, "Emit logs as JSON")
	return f
}

// LoadConfig builds the service config from a file when -config is set,
// otherwise from the flags.
func (f *Flags) LoadConfig() (*config.Config, error) {
	if *f.ConfigFile != "" {
		cfg, err := config.Load(*f.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		return cfg, nil
	}

	cfg := config.Default()
	cfg.Server.ListenAddr = *f.ListenAddr
	cfg.Storage.CacheDir = *f.CacheDir
	cfg.Storage.ModelDir = *f.ModelDir
	return cfg, nil
}

func runServeCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	f := SetupFlags(fs)
	fs.Parse(args)

	cfg, err := f.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *f.WriteConfig != "" {
		data, err := yaml.Marshal(cfg)
		if err == nil {
			err = os.WriteFile(*f.WriteConfig, data, 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved to %s\n", *f.WriteConfig)
	}

	log := newLogger(*f.LogLevel, *f.LogJSON)
	srv, err := server.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("server setup failed")
	}
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

// runCheckCmd pings a running instance and prints its health and latency
// metrics.
func runCheckCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Base URL of the running service")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*addr)
	health, err := c.Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	snap, err := c.Metrics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out := map[string]any{
		"health":  health,
		"metrics": snap,
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func newLogger(level string, asJSON bool) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	if asJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
