// Package config binds the gateway's tunables (listen address, queue
// capacity, timing constants) through viper, layered on top of the
// .env/os.Getenv loading cmd/agent already uses for provider API keys.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the gateway's own settings, including the Azure Speech key
// and region used by the Recognition Worker. The orchestrator's provider API
// keys (STT/LLM/TTS) are read directly from the environment by cmd/gateway,
// matching cmd/agent's existing pattern, and are not held here.
type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	Debug             bool          `mapstructure:"debug"`
	QueueCapacity     int           `mapstructure:"queue_capacity"`
	GreetingText      string        `mapstructure:"greeting_text"`
	AzureSpeechKey    string        `mapstructure:"azure_speech_key"`
	AzureSpeechRegion string        `mapstructure:"azure_speech_region"`
	RecognitionLang   string        `mapstructure:"recognition_language"`
	BargeInDebounce   time.Duration `mapstructure:"barge_in_debounce"`
	ShutdownBudget    time.Duration `mapstructure:"shutdown_budget"`
	DirectPlaybackTimeout time.Duration `mapstructure:"direct_playback_timeout"`
}

// Load binds Config from GATEWAY_-prefixed environment variables, falling
// back to the defaults below for every timing constant.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("debug", false)
	v.SetDefault("queue_capacity", 10)
	v.SetDefault("greeting_text", "Hello, how can I help you today?")
	v.SetDefault("recognition_language", "en-US")
	v.SetDefault("barge_in_debounce", 100*time.Millisecond)
	v.SetDefault("shutdown_budget", 3*time.Second)
	v.SetDefault("direct_playback_timeout", 8*time.Second)

	_ = v.BindEnv("azure_speech_key", "AZURE_SPEECH_KEY")
	_ = v.BindEnv("azure_speech_region", "AZURE_SPEECH_REGION")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
