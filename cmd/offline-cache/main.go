package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	versionFlag        string
	providerFlag       string
	dbFilenameFlag     string
	codecFlag          string
	hotMaxBytesFlag    int64
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the application (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&versionFlag, "cache-version", "", "Cache version to install, e.g. ma-maison-v13")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider: sqlite, memory, bigcache or redis")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&codecFlag, "codec", "", "Entry encoding: msgpack or cbor")
	flag.Int64Var(&hotMaxBytesFlag, "hot-max-bytes", 0, "Size of the in-memory read layer (0 disables it)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

// applyFlags overrides config values with the flags that were set.
func applyFlags(config *Config) {
	if originFlag != "" {
		config.Origin = originFlag
	}
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if portFlag > 0 {
		config.Port = portFlag
	}
	if versionFlag != "" {
		config.Version = versionFlag
	}
	if providerFlag != "" {
		config.Store.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.Store.DB = dbFilenameFlag
	}
	if codecFlag != "" {
		config.Store.Codec = codecFlag
	}
	if hotMaxBytesFlag > 0 {
		config.Store.HotMaxBytes = hotMaxBytesFlag
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	config, err := loadConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&config)

	origin, err := config.originURL()
	if err != nil {
		log.Fatal().Err(err).Msg("Please specify origin")
	}

	storage, err := openStorage(config.Store, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache")
	}
	defer storage.Close()

	reg := offlinecache.NewRegistration(offlinecache.RegistrationConfig{
		Origin:     *origin,
		OriginHost: config.Host,
		Logger:     &log.Logger,
	})
	notifier := newNotificationLog(log.Logger)
	newWorker := func(cacheVersion string) (*offlinecache.Worker, error) {
		workerConfig, err := config.workerConfig(cacheVersion, storage, &log.Logger)
		if err != nil {
			return nil, err
		}
		workerConfig.Network = reg.Network()
		workerConfig.Clients = reg
		workerConfig.Notifier = notifier
		return offlinecache.NewWorker(workerConfig)
	}

	worker, err := newWorker(config.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid worker configuration")
	}
	if err := reg.Register(context.Background(), worker); err != nil {
		log.Fatal().Err(err).Msg("Could not register worker")
	}

	handler := router(&admin{
		reg:       reg,
		storage:   storage,
		notifier:  notifier,
		newWorker: newWorker,
		log:       log.Logger.With().Str("component", "admin").Logger(),
	}, reg)

	log.Info().Msgf("Serving %s on port %v (cache version %s)", origin.String(), config.Port, config.Version)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", config.Port), handler); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
