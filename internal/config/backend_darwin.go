//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func appSupportDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "offsync")
	}
	return "offsync-data"
}

func defaultDataDir() string { return appSupportDir() }

func configFilePath() string {
	return filepath.Join(appSupportDir(), "config.json")
}

func secretHint() string {
	return " or macOS Keychain (service: offsync, account: jwt_secret)"
}
