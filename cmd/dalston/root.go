package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "0.1.0"

var (
	configFile string
	debug      bool

	v      = viper.New()
	logger = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:           "dalston",
	Version:       Version,
	Short:         "Netbook brightness, battery, volume, and storage applets",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return loadConfig(v, configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/dalston/dalston.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// config is the resolved configuration.
type config struct {
	Tick              time.Duration
	Display           string
	RampInterval      time.Duration
	BrightnessPresets []int
	LowThreshold      float64
	StoragePaths      []string
	StorageInterval   time.Duration
	VolumeStep        int
	SuspendAfter      time.Duration
	ShutdownCountdown int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bar.tick", time.Second/4)
	v.SetDefault("brightness.display", "")
	v.SetDefault("brightness.ramp_interval", 5*time.Millisecond)
	v.SetDefault("brightness.presets", []int{10, 40, 70, 100})
	v.SetDefault("battery.low_threshold", 10.0)
	v.SetDefault("storage.paths", []string{"/"})
	v.SetDefault("storage.interval", time.Minute)
	v.SetDefault("volume.step", 5)
	v.SetDefault("idle.suspend_after", 15*time.Minute)
	v.SetDefault("shutdown.countdown", 30)
}

// loadConfig reads the config file into v. A missing default config file is
// not an error.
func loadConfig(v *viper.Viper, file string) error {
	setDefaults(v)
	explicit := file != ""
	if !explicit {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil
		}
		file = filepath.Join(dir, "dalston", "dalston.yaml")
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !explicit && (errors.Is(err, fs.ErrNotExist) || errors.As(err, &nf)) {
			logger.Debug("config: no config file", "path", file)
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	logger.Debug("config: loaded", "path", v.ConfigFileUsed())
	return nil
}

func getConfig(v *viper.Viper) config {
	return config{
		Tick:              v.GetDuration("bar.tick"),
		Display:           v.GetString("brightness.display"),
		RampInterval:      v.GetDuration("brightness.ramp_interval"),
		BrightnessPresets: v.GetIntSlice("brightness.presets"),
		LowThreshold:      v.GetFloat64("battery.low_threshold"),
		StoragePaths:      v.GetStringSlice("storage.paths"),
		StorageInterval:   v.GetDuration("storage.interval"),
		VolumeStep:        v.GetInt("volume.step"),
		SuspendAfter:      v.GetDuration("idle.suspend_after"),
		ShutdownCountdown: v.GetInt("shutdown.countdown"),
	}
}

// watchConfig calls fn with the new configuration whenever the config file
// changes.
func watchConfig(v *viper.Viper, fn func(config)) {
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config: reloaded", "path", e.Name)
		fn(getConfig(v))
	})
	v.WatchConfig()
}
