package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load config from file into the config struct, config must be a pointer to the config struct.
// Values already set in config act as defaults. Every key can be overridden by an environment
// variable named after its path, e.g. battle.tick_interval by BATTLE_TICK_INTERVAL.
func Load(file string, config any) error {
	v := viper.New()

	if err := setDefaults(v, config); err != nil {
		return fmt.Errorf("set defaults: %v", err)
	}

	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %v", file, err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// setDefaults registers every leaf of config as a viper default, viper only resolves
// environment variables for keys it knows about.
func setDefaults(v *viper.Viper, config any) error {
	m := make(map[string]any)
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	walk(m, "", v.SetDefault)
	return nil
}

func walk(m map[string]any, prefix string, set func(key string, val any)) {
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}

		if nested, ok := val.(map[string]any); ok {
			walk(nested, key, set)
			continue
		}

		set(key, val)
	}
}
