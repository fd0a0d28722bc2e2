package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	// Session: external token/ingress provisioning service and SFU signaling.
	TokenEndpoint  string        `mapstructure:"token_endpoint"`
	SignalURL      string        `mapstructure:"signal_url"`
	DiagnosticsURL string        `mapstructure:"diagnostics_url"`
	DiagInterval   time.Duration `mapstructure:"diag_interval"`
	AudioMaxKbps   int           `mapstructure:"audio_max_kbps"`

	// Encoder sidecars.
	FFmpegPath string        `mapstructure:"ffmpeg_path"`
	GstPath    string        `mapstructure:"gst_path"`
	StopGrace  time.Duration `mapstructure:"stop_grace"`

	// Broadcast bridge.
	BridgeHost     string `mapstructure:"bridge_host"`
	BridgePort     int    `mapstructure:"bridge_port"`
	BridgePassword string `mapstructure:"bridge_password"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("token_endpoint", "http://localhost:9000/api/token")
	v.SetDefault("signal_url", "ws://localhost:9000/ws/signal")
	v.SetDefault("diagnostics_url", "")
	v.SetDefault("diag_interval", "3s")
	v.SetDefault("audio_max_kbps", 64)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("gst_path", "gst-launch-1.0")
	v.SetDefault("stop_grace", "500ms")
	v.SetDefault("bridge_host", "localhost")
	v.SetDefault("bridge_port", 4455)
	v.SetDefault("bridge_password", "")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
