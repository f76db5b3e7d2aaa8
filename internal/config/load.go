package config

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envVar     = "ENV"
	defaultEnv = "local"
	configDir  = "config"
)

// GetEnv returns $ENV or "local".
func GetEnv() string {
	return cmp.Or(os.Getenv(envVar), defaultEnv)
}

// Load reads config/<env>.yaml. Variables from ./.env are exported first and
// never override ones already set in the process environment.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	path, err := locate(env + ".yaml")
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Parse substitutes ${VAR} and ${VAR:-fallback} in data, decodes the YAML,
// fills defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(substituteEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}
	return cfg, nil
}

// locate looks in ./config first, then in the config directory of the
// source tree so tests run from any package directory.
func locate(name string) (string, error) {
	dirs := []string{configDir}
	if _, file, _, ok := runtime.Caller(0); ok {
		root := filepath.Join(filepath.Dir(file), "..", "..")
		dirs = append(dirs, filepath.Join(root, configDir))
	}
	for _, dir := range dirs {
		path := filepath.Clean(filepath.Join(dir, name))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("config %s not found in %s: %w", name, strings.Join(dirs, ", "), fs.ErrNotExist)
}

// substituteEnv expands only the braced form so a literal "$" in a value,
// such as a password, survives.
func substituteEnv(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		b.WriteString(s[:start])
		name, fallback, _ := strings.Cut(s[start+2:start+end], ":-")
		b.WriteString(cmp.Or(os.Getenv(name), fallback))
		s = s[start+end+1:]
	}
	b.WriteString(s)
	return b.String()
}
