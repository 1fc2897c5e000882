package app

import (
	"os"
	"path/filepath"

	cmnenv "carexpert/common/env"
)

type Config struct {
	Env       string
	APIURLs   []string
	WSURL     string
	RedisAddr string
	StateDir  string
	Language  string
}

func LoadConfig() Config {
	apiURLs := cmnenv.CSV("CAREXPERT_API_URLS", []string{cmnenv.String("CAREXPERT_API_URL", "http://localhost:8080")})
	return Config{
		Env:       cmnenv.String("APP_ENV", "dev"),
		APIURLs:   apiURLs,
		WSURL:     cmnenv.String("CAREXPERT_WS_URL", "ws://localhost:8080/ws/chat"),
		RedisAddr: cmnenv.String("CAREXPERT_REDIS_ADDR", "localhost:6379"),
		StateDir:  cmnenv.String("CAREXPERT_STATE_DIR", defaultStateDir()),
		Language:  cmnenv.String("CAREXPERT_LANGUAGE", "en"),
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".carexpert"
	}
	return filepath.Join(home, ".carexpert")
}
