package config

import "os"

// Config holds relay server settings, read from the environment.
type Config struct {
	Addr   string
	DBPath string
}

func Load() *Config {
	cfg := &Config{
		Addr:   ":8080",
		DBPath: "space-terminal.db",
	}

	if addr := os.Getenv("ST_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if dbPath := os.Getenv("ST_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	return cfg
}
