package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kitchej/pychat/pkg/console"
	"github.com/kitchej/pychat/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		configPath     string
		host           string
		port           int
		maxClients     int
		maxUsernameLen int
		bufferSize     int
		httpAddr       string
		logDir         string
		debug          bool
		noConsole      bool
		autoStart      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a chat server",
		Long: `Run a chat server with an interactive operator console.

Settings come from the config file (created with defaults on first run),
then PYCHAT_* environment variables, then command line flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tomlConfig, err := server.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Flags override config file and environment
			flags := cmd.Flags()
			if flags.Changed("host") {
				tomlConfig.Server.Host = host
			}
			if flags.Changed("port") {
				tomlConfig.Server.Port = port
			}
			if flags.Changed("buffer-size") {
				tomlConfig.Server.BufferSize = bufferSize
			}
			if flags.Changed("max-clients") {
				tomlConfig.Limits.MaxClients = &maxClients
			}
			if flags.Changed("max-username-len") {
				tomlConfig.Limits.MaxUsernameLength = maxUsernameLen
			}
			if flags.Changed("http") {
				tomlConfig.HTTP.Addr = httpAddr
			}
			if flags.Changed("log-dir") {
				tomlConfig.Logging.Dir = logDir
			}
			if flags.Changed("debug") {
				tomlConfig.Logging.Debug = debug
			}

			config, err := tomlConfig.ToServerConfig()
			if err != nil {
				return err
			}

			srv, err := server.New(config)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			defer srv.Close()

			// Without the console nobody could type "start"
			if autoStart || noConsole {
				if err := srv.Start(); err != nil {
					return fmt.Errorf("failed to start server: %w", err)
				}
				log.Printf("Server listening on %s", srv.Addr())
				if addr := srv.HTTPAddr(); addr != nil {
					log.Printf("HTTP listening on %s (/health, /metrics, /ws)", addr)
				}
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			if noConsole {
				sig := <-sigChan
				log.Printf("Received signal %v, shutting down...", sig)
				return stopServer(srv)
			}

			consoleDone := make(chan error, 1)
			go func() {
				consoleDone <- console.New(srv, os.Stdin, os.Stdout).Run()
			}()

			select {
			case err := <-consoleDone:
				if err != nil {
					log.Printf("Console error: %v", err)
				}
				return stopServer(srv)
			case sig := <-sigChan:
				log.Printf("Received signal %v, shutting down...", sig)
				return stopServer(srv)
			}
		},
	}

	defaults := server.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "~/.pychat/server.toml", "Path to config file")
	flags.StringVar(&host, "host", defaults.Host, "Address to listen on")
	flags.IntVarP(&port, "port", "p", defaults.Port, "TCP port to listen on")
	flags.IntVar(&maxClients, "max-clients", defaults.MaxClients, "Maximum admitted clients (0 = unlimited)")
	flags.IntVar(&maxUsernameLen, "max-username-len", defaults.MaxUsernameLength, "Maximum username length in bytes")
	flags.IntVar(&bufferSize, "buffer-size", defaults.BufferSize, "Socket read size in bytes")
	flags.StringVar(&httpAddr, "http", "", "Address for /health, /metrics and /ws (empty = disabled)")
	flags.StringVar(&logDir, "log-dir", "", "Directory for server.log, errors.log and debug.log")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&autoStart, "auto-start", false, "Start listening immediately instead of waiting for the start command")
	flags.BoolVar(&noConsole, "no-console", false, "Run without the interactive console (implies --auto-start)")

	return cmd
}

// stopServer stops srv if the console has not already done so
func stopServer(srv *server.Server) error {
	if !srv.IsRunning() {
		return nil
	}
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Printf("Server stopped")
	return nil
}
