package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AppID identifies the application's data directory across platforms
const AppID = "com.inboxhunter.app"

// StopFileName is the well-known file whose presence requests a graceful stop
const StopFileName = "stop_signal.txt"

// AppDataDir resolves the OS-specific application data directory.
// Windows uses Roaming AppData, macOS uses Application Support, Linux
// uses XDG_DATA_HOME falling back to ~/.local/share.
func AppDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to resolve home directory: %w", err)
			}
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppID), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", AppID), nil
	default:
		if base := os.Getenv("XDG_DATA_HOME"); base != "" {
			return filepath.Join(base, AppID), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, ".local", "share", AppID), nil
	}
}

// StopFilePath returns the full path of the stop signal file
func StopFilePath() (string, error) {
	dir, err := AppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, StopFileName), nil
}

// StopFileExists reports whether an external process requested a stop
func StopFileExists() bool {
	path, err := StopFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// CreateStopFile writes the stop signal file, creating the directory if needed
func CreateStopFile() error {
	path, err := StopFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create app data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte("stop"), 0o644); err != nil {
		return fmt.Errorf("failed to write stop file: %w", err)
	}
	return nil
}

// RemoveStopFile clears a previously written stop signal
func RemoveStopFile() error {
	path, err := StopFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stop file: %w", err)
	}
	return nil
}
