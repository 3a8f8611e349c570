// Package config holds the control plane's configuration surface: process
// environment for deployment knobs, and a YAML policy profile for everything
// an operator tunes per installation.
package config

import "os"

// Config holds process-level configuration.
type Config struct {
	LedgerDir     string
	LogLevel      string
	ProfilePath   string
	ArchivePath   string
	SigningSecret string
}

// Load loads configuration from environment variables.
func Load() *Config {
	ledgerDir := os.Getenv("WARDEN_LEDGER_DIR")
	if ledgerDir == "" {
		ledgerDir = "./warden-ledger"
	}

	logLevel := os.Getenv("WARDEN_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	profilePath := os.Getenv("WARDEN_PROFILE")
	if profilePath == "" {
		profilePath = "./policy.yaml"
	}

	// Empty means no SQLite archive mirror.
	archivePath := os.Getenv("WARDEN_ARCHIVE_PATH")

	// Empty means the ledger chains but does not sign.
	signingSecret := os.Getenv("WARDEN_SIGNING_SECRET")

	return &Config{
		LedgerDir:     ledgerDir,
		LogLevel:      logLevel,
		ProfilePath:   profilePath,
		ArchivePath:   archivePath,
		SigningSecret: signingSecret,
	}
}
