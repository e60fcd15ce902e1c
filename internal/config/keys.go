package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DEVY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "database.data_dir", typ: kString, env: "DEVY_DATABASE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Database.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Database.DataDir },
	},
	{
		key: "ai.api_key", typ: kString, env: "DEVY_AI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.APIKey },
	},
	{
		key: "ai.base_url", typ: kString, env: "DEVY_AI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.BaseURL },
	},
	{
		key: "ai.model", typ: kString, env: "DEVY_AI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Model },
	},
	{
		key: "session.secret", typ: kString, env: "DEVY_SESSION_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Session.Secret = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Secret },
	},
	{
		key: "app.name", typ: kString, env: "DEVY_APP_NAME",
		apply:   func(cfg *Config, v any) { cfg.App.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.App.Name },
	},
	{
		key: "log.level", typ: kString, env: "DEVY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// KeyInfo describes one configuration key for display. Secret values
// are masked.
type KeyInfo struct {
	Key   string
	Value string
}

func ShowAll(cfg Config) []KeyInfo {
	infos := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && v != "" {
			v = "********"
		}
		infos = append(infos, KeyInfo{Key: s.key, Value: v})
	}
	return infos
}
