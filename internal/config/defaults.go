package config

import (
	"os"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// DefaultConfig is the bottom configuration layer.
func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"data_dir": DefaultDataDir(),
		"timezone": "Local",
		"log": map[string]interface{}{
			"level": "info",
		},
		"reconcile": map[string]interface{}{
			"interval": 60,
		},
		"notifications": map[string]interface{}{
			"enabled":           true,
			"dispatch_interval": 30,
		},
		"conflicts": map[string]interface{}{
			"enabled":       true,
			"interval":      300,
			"nudge_minutes": 15,
		},
		"server": map[string]interface{}{
			"host": "localhost",
			"port": 8080,
		},
		"calendar": map[string]interface{}{
			"enabled":       false,
			"client_id":     os.Getenv("GOOGLE_CLIENT_ID"),
			"client_secret": os.Getenv("GOOGLE_CLIENT_SECRET"),
			"calendar_id":   "primary",
			"token_file":    "",
			"mirror_events": false,
		},
		"mirror": map[string]interface{}{
			"enabled": false,
			"url":     "",
			"timeout": 10,
		},
		"slots": map[string]interface{}{
			"morning_hour": 8,
			"evening_hour": 18,
			"work_days":    []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		},
	}
}

// NewDefaultProvider wraps DefaultConfig for koanf.
func NewDefaultProvider() *confmap.Confmap {
	return confmapProvider(DefaultConfig())
}

func confmapProvider(m map[string]interface{}) *confmap.Confmap {
	return confmap.Provider(m, ".")
}

// Default returns the configuration with no file or environment applied.
func Default() *Config {
	k := koanf.New(".")
	var cfg Config
	if err := k.Load(NewDefaultProvider(), nil); err == nil {
		_ = k.Unmarshal("", &cfg)
	}
	return &cfg
}

func (c *Config) toMap() map[string]interface{} {
	return map[string]interface{}{
		"data_dir": c.DataDir,
		"timezone": c.Timezone,
		"log": map[string]interface{}{
			"level": c.Log.Level,
		},
		"reconcile": map[string]interface{}{
			"interval": c.Reconcile.Interval,
		},
		"notifications": map[string]interface{}{
			"enabled":           c.Notifications.Enabled,
			"dispatch_interval": c.Notifications.DispatchInterval,
		},
		"conflicts": map[string]interface{}{
			"enabled":       c.Conflicts.Enabled,
			"interval":      c.Conflicts.Interval,
			"nudge_minutes": c.Conflicts.NudgeMinutes,
		},
		"server": map[string]interface{}{
			"host": c.Server.Host,
			"port": c.Server.Port,
		},
		"calendar": map[string]interface{}{
			"enabled":       c.Calendar.Enabled,
			"client_id":     c.Calendar.ClientID,
			"client_secret": c.Calendar.ClientSecret,
			"calendar_id":   c.Calendar.CalendarID,
			"token_file":    c.Calendar.TokenFile,
			"mirror_events": c.Calendar.MirrorEvents,
		},
		"mirror": map[string]interface{}{
			"enabled": c.Mirror.Enabled,
			"url":     c.Mirror.URL,
			"timeout": c.Mirror.Timeout,
		},
		"slots": map[string]interface{}{
			"morning_hour": c.Slots.MorningHour,
			"evening_hour": c.Slots.EveningHour,
			"work_days":    c.Slots.WorkDays,
		},
	}
}
