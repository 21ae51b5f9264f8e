package commands

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mosaicnetworks/notarium/src/config"
	"github.com/mosaicnetworks/notarium/src/notarium"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// NewRunCmd returns the command that starts a notarium node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNotarium,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNotarium(cmd *cobra.Command, args []string) error {
	engine := notarium.NewNotarium(&_config.Notarium)

	if err := engine.Init(); err != nil {
		_config.Notarium.Logger().Error("Cannot initialize engine:", err)
		engine.Shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_config.Notarium.Logger().Info("Shutting down")
		if err := engine.Shutdown(); err != nil {
			_config.Notarium.Logger().WithError(err).Error("Shutdown")
		}
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	c := &_config.Notarium

	cmd.Flags().String("datadir", c.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", c.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-dir", c.LogDir, "Also write logs to files in this directory, one per level")
	cmd.Flags().String("moniker", c.Moniker, "Name of this node in parties.json")

	// Network
	cmd.Flags().StringP("listen", "l", c.BindAddr, "Listen IP:Port for notarium node")
	cmd.Flags().StringP("advertise", "a", c.AdvertiseAddr, "Advertise IP:Port for notarium node")
	cmd.Flags().DurationP("timeout", "t", c.TCPTimeout, "TCP Timeout")
	cmd.Flags().Duration("notarise-timeout", c.NotariseTimeout, "Timeout of notarisation requests")
	cmd.Flags().Int("max-pool", c.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().Bool("no-service", c.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", c.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", c.Store, "Persist the ledger and the flow checkpoints")
	cmd.Flags().String("db", c.DatabaseDir, "Database directory")
	cmd.Flags().String("ledger", c.Ledger, "Ledger backend: badger or sqlite")
	cmd.Flags().Int("cache-size", c.CacheSize, "Number of transactions in the ledger cache")

	// Flows
	cmd.Flags().Int("flow-workers", c.FlowWorkers, "Number of flows processed concurrently")
	cmd.Flags().Uint64("max-flow-retries", c.MaxFlowRetries, "Retries of a failing flow before it is kept for observation")

	// Notary
	cmd.Flags().String("notary", c.Notary, "Run a notary service: validating or non-validating")
	cmd.Flags().StringSlice("notary-replicas", c.NotaryReplicas, "Key files of the other replicas of a clustered notary")
	cmd.Flags().Duration("notary-retry-initial", c.NotaryRetryInitial, "First delay before resending a notarisation request")
	cmd.Flags().Duration("notary-retry-max", c.NotaryRetryMax, "Max delay between notarisation requests")
	cmd.Flags().Uint64("notary-retry-attempts", c.NotaryRetryAttempts, "Notarisation retries after the first request")
	cmd.Flags().String("network-parameters", c.NetworkParameters, "Hex hash of the current network parameters")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Notarium.SetDataDir(_config.Notarium.DataDir)

	if _config.Notarium.LogDir != "" {
		if err := addFileHooks(_config.Notarium.BaseLogger(), _config.Notarium.LogDir); err != nil {
			return err
		}
	}

	c := &_config.Notarium

	logFields := logrus.Fields{
		"notarium.DataDir":         c.DataDir,
		"notarium.BindAddr":        c.BindAddr,
		"notarium.AdvertiseAddr":   c.AdvertiseAddr,
		"notarium.ServiceAddr":     c.ServiceAddr,
		"notarium.NoService":       c.NoService,
		"notarium.MaxPool":         c.MaxPool,
		"notarium.Store":           c.Store,
		"notarium.LogLevel":        c.LogLevel,
		"notarium.Moniker":         c.Moniker,
		"notarium.TCPTimeout":      c.TCPTimeout,
		"notarium.NotariseTimeout": c.NotariseTimeout,
		"notarium.FlowWorkers":     c.FlowWorkers,
		"notarium.MaxFlowRetries":  c.MaxFlowRetries,
		"notarium.Notary":          c.Notary,
		"notarium.NotaryRetry":     c.NotaryRetry(),
	}

	if c.Store {
		logFields["notarium.DatabaseDir"] = c.DatabaseDir
		logFields["notarium.Ledger"] = c.Ledger
		logFields["notarium.CacheSize"] = c.CacheSize
	}

	if c.Notary != "" {
		logFields["notarium.NotaryReplicas"] = c.NotaryReplicas
		logFields["notarium.NetworkParameters"] = c.NetworkParameters
	}

	c.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/notarium.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigFile) // name of config file (without extension)
	viper.AddConfigPath(_config.Notarium.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Notarium.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Notarium.Logger().Debugf("No config file found in: %s", _config.Notarium.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addFileHooks duplicates the logs of each level to a file in dir.
func addFileHooks(logger *logrus.Logger, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	pathMap := lfshook.PathMap{}
	for _, level := range []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel} {
		pathMap[level] = filepath.Join(dir, "notarium_"+level.String()+".log")
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&prefixed.TextFormatter{DisableColors: true},
	))

	return nil
}
