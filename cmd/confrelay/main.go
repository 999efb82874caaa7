// Command confrelay runs a conference relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/opd-ai/confrelay"
	"github.com/opd-ai/confrelay/config"
	"github.com/sirupsen/logrus"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "", "configuration file (defaults are used when empty)")
	showVersion := flag.Bool("v", false, "print version and exit")
	genConfig := flag.Bool("gen-config", false, "write confrelay.example.yaml and exit")
	logLevel := flag.String("log-level", "", "override log_level")
	nodeID := flag.Int64("node", -1, "override node_id")
	flag.Parse()

	if *showVersion {
		fmt.Printf("confrelay %s (%s) %s/%s %s\n", Version, GitCommit, runtime.GOOS, runtime.GOARCH, runtime.Version())
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("confrelay.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("wrote confrelay.example.yaml")
		return
	}

	cfg, err := loadConfig(*configPath, *logLevel, *nodeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.StandardLogger()
	if err := cfg.ConfigureLogger(logger); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	relay, err := confrelay.New(cfg, logrus.NewEntry(logger))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Failed to create relay")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"node_id":  cfg.NodeID,
			"error":    err.Error(),
		}).Error("Relay exited with error")
		stop()
		os.Exit(1)
	}
}

func loadConfig(path, logLevel string, nodeID int64) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if nodeID >= 0 {
		if nodeID > int64(^uint32(0)) {
			return nil, fmt.Errorf("%w: node %d out of range", config.ErrInvalidConfig, nodeID)
		}
		cfg.NodeID = uint32(nodeID)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
