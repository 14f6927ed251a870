package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/tanglesync/src/tanglesync"
)

//NewRunCmd returns the command that starts a tanglesync node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runTanglesync,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runTanglesync(cmd *cobra.Command, args []string) error {
	engine := tanglesync.NewTanglesync(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_config.Logger().Info("Interrupted, shutting down")
		engine.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-to-file", _config.LogToFile, "Also write the log to [datadir]/tanglesync.log")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the peering endpoint")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the peering endpoint")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("outbox-size", _config.OutboxSize, "Frames queued per peer before sends fail")
	cmd.Flags().Duration("reconnect", _config.ReconnectInterval, "Time between dials of disconnected peers.json addresses")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")

	// Sync
	cmd.Flags().Duration("heartbeat", _config.HeartbeatInterval, "Time between heartbeats")
	cmd.Flags().Duration("peer-timeout", _config.PeerTimeout, "Silence after which a peer is dropped")
	cmd.Flags().Uint32("synced-threshold", _config.SyncedThreshold, "Max distance between a peer's solid and latest milestone for it to count as synced")
	cmd.Flags().Int("milestone-window", _config.MilestoneRequestWindow, "Max milestones requested ahead of the solid milestone")

	// Requests
	cmd.Flags().Duration("retry-interval", _config.Request.RetryInterval, "Time between two attempts of the same request")
	cmd.Flags().Int("retry-ceiling", _config.Request.RetryCeiling, "Attempts after which a request is abandoned")
	cmd.Flags().Int("fanout", _config.Request.Fanout, "Peers asked per attempt")
	cmd.Flags().Duration("request-timeout", _config.Request.RequestTimeout, "Time after which a pending request is abandoned")
	cmd.Flags().Int("iteration-budget", _config.Request.IterationBudget, "Entries processed before a sweep yields")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":           _config.DataDir,
		"BindAddr":          _config.BindAddr,
		"AdvertiseAddr":     _config.AdvertiseAddr,
		"ServiceAddr":       _config.ServiceAddr,
		"NoService":         _config.NoService,
		"Store":             _config.Store,
		"LogLevel":          _config.LogLevel,
		"HeartbeatInterval": _config.HeartbeatInterval,
		"PeerTimeout":       _config.PeerTimeout,
		"TCPTimeout":        _config.TCPTimeout,
		"SyncedThreshold":   _config.SyncedThreshold,
		"RetryInterval":     _config.Request.RetryInterval,
		"RetryCeiling":      _config.Request.RetryCeiling,
		"RequestTimeout":    _config.Request.RequestTimeout,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

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

	// look for config file in [datadir]/tanglesync.toml (.json, .yaml also work)
	viper.SetConfigName("tanglesync") // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
