package mxtool

import (
	"bufio"
	"os"
	"strings"
)

// Config holds the key=value settings read from mx.conf plus MX_* overrides
// from the environment. Keys are case-folded to lower case; values have
// $VAR/${VAR} references expanded at load time.
type Config struct {
	Values map[string]string
}

func newConfig() *Config {
	return &Config{Values: make(map[string]string)}
}

// LoadFile parses newline-delimited key=value settings. With override set,
// parsed values replace any already present; otherwise only missing keys are
// filled in.
func (c *Config) LoadFile(path string, override bool) error {
	file, err := os.Open(path)
	if err != nil {
		// Config files are optional at every location we probe.
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		val = os.Expand(val, os.Getenv)
		if !override {
			if _, exists := c.Values[key]; exists {
				continue
			}
		}
		c.Values[key] = val
	}
	return scanner.Err()
}

// Merge MX_* env overrides: MX_JAVA_HOME=x becomes key "java_home".
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "MX_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				key := strings.ToLower(strings.TrimPrefix(parts[0], "MX_"))
				cfg.Values[key] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	maxineDir = cfg.Values["maxine_dir"]
	if maxineDir == "" {
		if wd, err := os.Getwd(); err == nil {
			maxineDir = wd
		}
	}

	userHome = os.Getenv("HOME")
	graalHome = os.Getenv("GRAALVM_HOME")

	fetchHelper = cfg.Values["fetch_helper"]
	if fetchHelper == "" {
		fetchHelper = "mx-fetch"
	}

	mirrorURL = strings.TrimRight(cfg.Values["mirror"], "/")

	if cfg.Values["debug"] == "1" {
		Debug = true
	}
	if cfg.Values["verbose"] == "1" {
		Verbose = true
	}
}
