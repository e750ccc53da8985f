package main

import (
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/facade"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hiolink",
	Short: "hiolink - reactor based framed socket transport",
	Long: `hiolink multiplexes TCP connections over a small set of epoll selectors,
frames packets (bytes, strings, files, streams) over them and keeps idle
connections alive with heartbeats.

Configuration is read from the file given by --config and from HIOLINK_*
environment variables, e.g. HIOLINK_IO_STRATEGY=dual.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
}

// app bundles what every subcommand needs.
type app struct {
	v     *viper.Viper
	store *control.ConfigStore
	log   *logrus.Logger
	ioctx *facade.IoContext
}

// bootstrap loads configuration, builds the logger and the IoContext and
// keeps the log level in sync with config file changes.
func bootstrap() (*app, error) {
	v, err := control.NewViper(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := control.Decode(v)
	if err != nil {
		return nil, err
	}
	log, err := control.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	var m *control.Metrics
	if cfg.Metrics.Enabled {
		m = control.NewMetrics()
	}
	ioctx, err := facade.New(cfg, facade.WithLogger(log), facade.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	if err := ioctx.Start(); err != nil {
		_ = ioctx.Stop()
		return nil, err
	}

	store := control.NewConfigStore(cfg)
	store.OnReload(func(next *control.Config) {
		lv, err := logrus.ParseLevel(next.Log.Level)
		if err != nil {
			log.WithError(err).Warn("reloaded log level ignored")
			return
		}
		log.SetLevel(lv)
		log.WithField("level", lv.String()).Info("config reloaded")
	})
	if configFile != "" {
		store.Watch(v, func(err error) {
			log.WithError(err).Warn("config reload rejected")
		})
	}
	return &app{v: v, store: store, log: log, ioctx: ioctx}, nil
}
