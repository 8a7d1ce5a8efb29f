// Package configpaths locates usbdsim configuration files.
package configpaths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory and base file name used for configuration.
const AppName = "usbdsim"

// DefaultConfigDir returns the platform-specific configuration directory.
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, AppName), nil
		}
		return "", errors.New("AppData not set")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, AppName), nil
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", AppName), nil
		}
		return "", errors.New("HOME not set")
	}
}

// Ext returns the file extension for a config format name.
func Ext(format string) string {
	switch format {
	case "yaml", "yml":
		return ".yaml"
	case "toml":
		return ".toml"
	default:
		return ".json"
	}
}

// EnsureDir creates the parent directory of filePath.
func EnsureDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// CandidatePaths returns the config files to try per format, highest
// priority first. userPath, when set, is routed to the loader matching its
// extension and tried before the working and config directories.
func CandidatePaths(userPath string) (jsonPaths, yamlPaths, tomlPaths []string) {
	add := func(dir, base string) {
		p := filepath.Join(dir, base)
		jsonPaths = append(jsonPaths, p+".json")
		yamlPaths = append(yamlPaths, p+".yaml", p+".yml")
		tomlPaths = append(tomlPaths, p+".toml")
	}

	if userPath != "" {
		switch filepath.Ext(userPath) {
		case ".yaml", ".yml":
			yamlPaths = append(yamlPaths, userPath)
		case ".toml":
			tomlPaths = append(tomlPaths, userPath)
		default:
			jsonPaths = append(jsonPaths, userPath)
		}
	}

	if wd, err := os.Getwd(); err == nil {
		add(wd, AppName)
	}
	if dir, err := DefaultConfigDir(); err == nil {
		add(dir, "config")
	}
	if runtime.GOOS != "windows" {
		add(filepath.Join("/etc", AppName), "config")
	}
	return
}
