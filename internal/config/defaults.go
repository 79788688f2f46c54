package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "nestkbd"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/nestkbd/
//   - Linux:   $XDG_DATA_HOME/nestkbd/ or ~/.local/share/nestkbd/
//   - Windows: %APPDATA%\nestkbd\
//
// NESTKBD_DATA_DIR overrides all of them.
func PlatformDataDir() string {
	if dir := os.Getenv("NESTKBD_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir(), ".local", "share", appName)
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/nestkbd/
//   - Linux:   $XDG_CONFIG_HOME/nestkbd/ or ~/.config/nestkbd/
//   - Windows: %APPDATA%\nestkbd\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return PlatformDataDir()
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir(), ".config", appName)
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/nestkbd/
//   - Linux:   <data dir>/logs/
//   - Windows: %LOCALAPPDATA%\nestkbd\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", appName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName, "logs")
		}
		return filepath.Join(homeDir(), "AppData", "Local", appName, "logs")
	default:
		return filepath.Join(PlatformDataDir(), "logs")
	}
}

// FindConfigFile returns the first existing config file among the
// supported names in the config directory, or the default TOML path.
func FindConfigFile() string {
	dir := PlatformConfigDir()
	for _, name := range []string{"config.toml", "config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return filepath.Join(dir, "config.toml")
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
