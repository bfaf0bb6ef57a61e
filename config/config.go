// Package config loads the rtc layer's configuration from a yaml file with
// environment overrides and sensible defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/anomous/webclient/rtc"
)

// Load reads the configuration file at path. An empty path skips the file
// and leaves defaults in effect, overridable through WEBCLIENT_* environment
// variables (e.g. WEBCLIENT_ANSWER_TIMEOUT=45s).
func Load(path string) (rtc.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("WEBCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("answer_timeout", rtc.DefaultAnswerTimeout)
	v.SetDefault("independent_track_mute", true)
	v.SetDefault("ice_servers", []rtc.ICEServer{})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return rtc.Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg rtc.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return rtc.Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
