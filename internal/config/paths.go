package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName names the XDG subdirectories.
const appName = "octomind"

// Paths contains the standard paths for octomind data.
type Paths struct {
	Data   string // ~/.local/share/octomind
	Config string // ~/.config/octomind
	Cache  string // ~/.cache/octomind
	State  string // ~/.local/state/octomind
}

// GetPaths returns the standard paths for octomind data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), appName),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), appName),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), appName),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), appName),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the root of session logs and memory.
func (p *Paths) StoragePath() string {
	if dir := os.Getenv("OCTOMIND_DATA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(p.Data, "storage")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// configNames are the accepted config file names, in load order.
var configNames = []string{"config.json", "config.jsonc", "config.yaml", "config.yml"}

// GlobalConfigPath returns the default global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "config.jsonc")
}

// candidates returns every file Load looks at, in precedence order.
func candidates(directory string) []string {
	var out []string
	global := GetPaths().Config
	for _, n := range configNames {
		out = append(out, filepath.Join(global, n))
	}
	if directory != "" {
		for _, n := range configNames {
			out = append(out, filepath.Join(directory, "octomind."+n[len("config."):]))
		}
		for _, n := range configNames {
			out = append(out, filepath.Join(directory, ".octomind", n))
		}
	}
	if p := os.Getenv("OCTOMIND_CONFIG"); p != "" {
		out = append(out, p)
	}
	return out
}
