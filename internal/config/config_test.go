package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/ebattle/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Prefix string
	}

	Battle struct {
		DurationSeconds int           `mapstructure:"duration_seconds"`
		TickInterval    time.Duration `mapstructure:"tick_interval"`
		AutoSettle      bool          `mapstructure:"auto_settle"`
	}
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		file   string
		env    map[string]string
		assert func(t *testing.T, c testConfig)
	}{
		"should read values from file": {
			file: `
http:
  port: 9000
redis:
  addrs: ["localhost:6379"]
battle:
  duration_seconds: 60
  tick_interval: 500ms
`,
			assert: func(t *testing.T, c testConfig) {
				assert.Equal(t, int32(9000), c.HTTP.Port)
				assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
				assert.Equal(t, 60, c.Battle.DurationSeconds)
				assert.Equal(t, 500*time.Millisecond, c.Battle.TickInterval)
			},
		},

		"should keep defaults for keys missing from file": {
			file: `
http:
  port: 9000
`,
			assert: func(t *testing.T, c testConfig) {
				assert.Equal(t, 900, c.Battle.DurationSeconds)
				assert.Equal(t, time.Second, c.Battle.TickInterval)
				assert.True(t, c.Battle.AutoSettle)
			},
		},

		"should override defaults and file with env": {
			file: `
battle:
  duration_seconds: 60
`,
			env: map[string]string{
				"BATTLE_DURATION_SECONDS": "120",
				"BATTLE_AUTO_SETTLE":      "false",
				"REDIS_PREFIX":            "env",
			},
			assert: func(t *testing.T, c testConfig) {
				assert.Equal(t, 120, c.Battle.DurationSeconds)
				assert.False(t, c.Battle.AutoSettle)
				assert.Equal(t, "env", c.Redis.Prefix)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			p := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(p, []byte(tt.file), 0o600))

			var c testConfig
			c.Battle.DurationSeconds = 900
			c.Battle.TickInterval = time.Second
			c.Battle.AutoSettle = true

			require.NoError(t, config.Load(p, &c))
			tt.assert(t, c)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	require.Error(t, config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c))
}
