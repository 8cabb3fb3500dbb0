// Command discfs-mount provides a FUSE binding whose file content is stored
// as encrypted block chains posted to a chat service channel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sqooid/discfs"
	"github.com/sqooid/discfs/aead"
	"github.com/sqooid/discfs/internal/config"
	"github.com/sqooid/discfs/metadata"
	"github.com/sqooid/discfs/transport"
)

var (
	dotenvPath  string
	mirrorFile  string
	verbosity   int
	dbPathFlag  string
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "discfs-mount <mountpoint>",
	Short: "Mount a chat-service-backed filesystem",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&dotenvPath, "dotenv", "", "Path to a .env file to load before reading configuration.")
	rootCmd.Flags().StringVar(&mirrorFile, "mirror-config", "", "Path to a yaml file describing optional mirror backends.")
	rootCmd.Flags().StringVar(&dbPathFlag, "db-path", "", "Override the metadata database path (defaults to DB_PATH or ./fs.db).")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v for info, -vv for debug, -vvv for trace).")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Override the metrics server address (defaults to METRICS_PORT or localhost:3001).")
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case verbosity >= 3:
		level = zerolog.TraceLevel
	case verbosity == 2:
		level = zerolog.DebugLevel
	case verbosity == 1:
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func run(cmd *cobra.Command, args []string) error {
	mountPath := args[0]
	log := newLogger()

	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			return fmt.Errorf("failed to load dotenv file: %w", err)
		}
	}

	cfg, err := config.Load(mirrorFile)
	if err != nil {
		return err
	}
	if dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}

	store, err := metadata.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	codec, err := aead.NewCodec(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	tc := transport.New(cfg.ChatAPIURL, cfg.ChatCDNURL, cfg.ChatToken)

	sinks, err := cfg.Sinks()
	if err != nil {
		return fmt.Errorf("failed to initialize mirror backends: %w", err)
	}

	fullMountPath, err := filepath.Abs(mountPath)
	if err != nil {
		return fmt.Errorf("failed to resolve mount path: %w", err)
	}
	volume := filepath.Base(fullMountPath)

	fs := discfs.New(store, tc, sinks, codec, cfg.ChannelID, log)
	server := fuseutil.NewFileSystemServer(fs)

	addr := metricsAddr
	if addr == "" {
		addr = config.MetricsAddr()
	}
	go serveMetrics(addr, log)

	mountCfg := &fuse.MountConfig{
		FSName:     volume,
		VolumeName: volume,
		Subtype:    "discfs",
		Options: map[string]string{
			"nodev":               "",
			"nosuid":              "",
			"noexec":              "",
			"default_permissions": "",
			"allow_root":          "",
			"auto_unmount":        "",
			"async":               "",
		},
		ErrorLogger: stdLoggerFor(log, zerolog.ErrorLevel),
	}
	if verbosity >= 1 {
		mountCfg.DebugLogger = stdLoggerFor(log, zerolog.DebugLevel)
	}

	mfs, err := fuse.Mount(fullMountPath, server, mountCfg)
	if err != nil {
		return fmt.Errorf("failed to mount: %w", err)
	}
	go handleInterrupt(mfs.Dir(), log)

	log.Info().Str("mountpoint", fullMountPath).Msg("filesystem mounted")
	return mfs.Join(context.Background())
}

func handleInterrupt(mountPoint string, log zerolog.Logger) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	for range signalChan {
		log.Info().Msg("received interrupt, attempting to unmount")
		if err := fuse.Unmount(mountPoint); err != nil {
			log.Warn().Err(err).Msg("unmount failed")
			continue
		}
		log.Info().Msg("unmounted successfully")
		return
	}
}
