package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
)

const appName = "mcpctx"

// GetLogDir returns the standard log directory for the current OS
func GetLogDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName, "logs"), nil
		}
		return filepath.Join(homeDir, "Library", "Logs", appName), nil
	default:
		// xdg resolves %LOCALAPPDATA% on Windows and ~/.local/state elsewhere
		return filepath.Join(xdg.StateHome, appName, "logs"), nil
	}
}

// GetLogFilePathWithDir returns the full path for a log file, creating the directory.
// An empty logDir selects the standard directory.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
