package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/jmcp-dev/jmcp/pkg/auth"
	"github.com/jmcp-dev/jmcp/pkg/config"
	"github.com/jmcp-dev/jmcp/pkg/device"
	"github.com/jmcp-dev/jmcp/pkg/server"
	"github.com/jmcp-dev/jmcp/pkg/target/junos"
)

var (
	configFile string
	deviceFile string
	host       string
	port       int
	transport  string
	debug      bool

	versionFlag bool
	version     = "dev"
	commit      = ""
)

func main() {
	pflag.StringVarP(&configFile, "config", "c", "", "config file path")
	pflag.StringVarP(&deviceFile, "device-mapping", "f", "", "JSON file containing the device mapping")
	pflag.StringVarP(&host, "host", "H", "", "server host")
	pflag.IntVarP(&port, "port", "p", 0, "server port")
	pflag.StringVarP(&transport, "transport", "t", "", "server transport (stdio or streamable-http)")
	pflag.BoolVarP(&debug, "debug", "d", false, "set log level to debug")
	pflag.BoolVarP(&versionFlag, "version", "v", false, "print version")
	pflag.Parse()

	if versionFlag {
		fmt.Println(version + "-" + commit)
		return
	}

	if debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.New(configFile)
	if err != nil {
		log.Errorf("failed to read config: %v", err)
		os.Exit(1)
	}
	// flags override file values
	if deviceFile != "" {
		cfg.DeviceFile = deviceFile
	}
	if host != "" {
		cfg.MCPServer.Host = host
	}
	if port > 0 {
		cfg.MCPServer.Port = port
	}
	if transport != "" {
		cfg.MCPServer.Transport = transport
	}

	registry := device.NewRegistry()
	if err := registry.LoadFile(cfg.DeviceFile); err != nil {
		log.Errorf("device configuration validation failed: %v", err)
		os.Exit(1)
	}

	tokens := auth.NewStore(cfg.TokensFile)
	if cfg.MCPServer.Transport != config.TransportStdio {
		if err := tokens.Load(); err != nil {
			log.Warnf("invalid tokens file - server is open to all clients: %v", err)
		}
		if tokens.Len() == 0 {
			log.Warn("no tokens found - create one with: tokenctl generate --id <token-id>")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	setupCloseHandler(cancel)

	s := server.New(cfg, registry, junos.NewFactory(), tokens)
	if err := s.Serve(ctx); err != nil {
		log.Errorf("failed to run server: %v", err)
		os.Exit(1)
	}
}

func setupCloseHandler(cancelFn context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-c
		fmt.Fprintf(os.Stderr, "\nreceived signal '%s'. terminating...\n", sig.String())
		cancelFn()
	}()
}
