package helper

import (
	"os"
	"path/filepath"
)

// SystemConfigDir is consulted when a relative config file is not found locally
const SystemConfigDir = "/etc/hostlink"

// GetCfgPath returns the path to the configuration file.
//
// Lookup order:
// 1. an absolute filename is returned as-is
// 2. ./{filename}, then ./configs/{filename}
// 3. SystemConfigDir/{filename}
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	if wd, err := os.Getwd(); err == nil && wd != "" {
		for _, dir := range []string{wd, filepath.Join(wd, "configs")} {
			if p, ok := existing(filepath.Join(dir, filename)); ok {
				return p
			}
		}
	}
	return filepath.Join(SystemConfigDir, filename)
}

func existing(path string) (string, bool) {
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, true
}
