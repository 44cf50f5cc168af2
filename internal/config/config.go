// Package config loads octomind configuration.
//
// Sources are merged in precedence order, later ones overriding earlier:
//
//  1. Global config in the XDG config directory (config.json, .jsonc, .yaml, .yml)
//  2. Project config: octomind.{json,jsonc,yaml,yml} in the working directory
//  3. Project directory config: .octomind/config.{json,jsonc,yaml,yml}
//  4. The file named by OCTOMIND_CONFIG
//  5. Inline JSON in OCTOMIND_CONFIG_CONTENT
//  6. Environment overrides (provider API keys, OCTOMIND_MODEL, OCTOMIND_ROLE)
//
// Values may reference {env:VAR} and {file:path}. A .env file in the working
// directory is loaded first and never overrides variables already set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// apiKeyEnv maps vendors to the variable holding their API key.
var apiKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"ark":        "ARK_API_KEY",
}

// Load reads and merges every configuration source for directory, applies
// defaults and validates the result.
func Load(directory string) (*types.Config, error) {
	cfg, _, err := load(directory)
	return cfg, err
}

// load is Load that also reports the files it read.
func load(directory string) (*types.Config, []string, error) {
	if directory != "" {
		if err := loadDotEnv(filepath.Join(directory, ".env")); err != nil {
			return nil, nil, err
		}
	}

	cfg := &types.Config{}
	var sources []string
	for _, path := range candidates(directory) {
		layer, err := loadFile(path)
		if os.IsNotExist(err) {
			if path != os.Getenv("OCTOMIND_CONFIG") {
				continue
			}
			return nil, nil, &Error{Path: path, Reason: "read", Err: err}
		}
		if err != nil {
			return nil, nil, err
		}
		mergeConfig(cfg, layer)
		sources = append(sources, path)
	}

	if content := os.Getenv("OCTOMIND_CONFIG_CONTENT"); content != "" {
		layer, err := parse("OCTOMIND_CONFIG_CONTENT", ".jsonc", []byte(content), directory)
		if err != nil {
			return nil, nil, err
		}
		mergeConfig(cfg, layer)
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, sources, nil
}

// loadDotEnv loads a .env file if present.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &Error{Path: path, Reason: "read .env", Err: err}
	}
	return nil
}

// loadFile reads one config file. A missing file is reported with an error
// satisfying os.IsNotExist.
func loadFile(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, &Error{Path: path, Reason: "read", Err: err}
	}
	return parse(path, filepath.Ext(path), data, filepath.Dir(path))
}

// parse normalizes data to JSON, interpolates it and decodes the result.
// Relative {file:} references resolve against baseDir.
func parse(path, ext string, data []byte, baseDir string) (*types.Config, error) {
	var raw []byte
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &Error{Path: path, Reason: "parse yaml", Err: err}
		}
		if doc == nil {
			doc = map[string]any{}
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, &Error{Path: path, Reason: "parse yaml", Err: err}
		}
		raw = b
	default:
		raw = jsonc.ToJSON(data)
	}

	raw, err := interpolate(raw, baseDir)
	if err != nil {
		return nil, &Error{Path: path, Reason: "interpolate", Err: err}
	}

	var cfg types.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &Error{Path: path, Reason: "decode", Err: err}
	}
	return &cfg, nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate replaces {env:VAR} and {file:path} inside JSON string values.
// Substituted text is escaped so the document stays valid JSON.
func interpolate(data []byte, baseDir string) ([]byte, error) {
	out := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return escapeJSON(os.Getenv(name))
	})

	var ferr error
	out = filePattern.ReplaceAllStringFunc(out, func(match string) string {
		if ferr != nil {
			return match
		}
		path := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(path, "~/") {
			home, _ := os.UserHomeDir()
			path = filepath.Join(home, path[2:])
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			ferr = fmt.Errorf("file reference %s: %w", path, err)
			return match
		}
		return escapeJSON(strings.TrimSpace(string(content)))
	})
	if ferr != nil {
		return nil, ferr
	}
	return []byte(out), nil
}

// escapeJSON escapes s for use inside a JSON string literal.
func escapeJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// mergeConfig merges source into target. Scalars override when set, maps
// merge by key and named lists merge by name.
func mergeConfig(target, source *types.Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.Role != "" {
		target.Role = source.Role
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.Providers != nil {
		if target.Providers == nil {
			target.Providers = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Providers {
			target.Providers[k] = v
		}
	}
	if source.Roles != nil {
		if target.Roles == nil {
			target.Roles = make(map[string]types.RoleConfig)
		}
		for k, v := range source.Roles {
			target.Roles[k] = v
		}
	}
	target.Servers = mergeNamed(target.Servers, source.Servers, func(d types.ServerDefinition) string { return d.Name })
	target.Layers = mergeNamed(target.Layers, source.Layers, func(l types.Layer) string { return l.Name })
	target.Agents = mergeNamed(target.Agents, source.Agents, func(a types.AgentDefinition) string { return a.Name })
	if source.Server != nil {
		target.Server = source.Server
	}
}

// mergeNamed replaces entries of target that share a name with an entry of
// source and appends the rest, keeping target's order.
func mergeNamed[T any](target, source []T, name func(T) string) []T {
	if len(source) == 0 {
		return target
	}
	index := make(map[string]int, len(target))
	for i, v := range target {
		index[name(v)] = i
	}
	for _, v := range source {
		if i, ok := index[name(v)]; ok {
			target[i] = v
			continue
		}
		index[name(v)] = len(target)
		target = append(target, v)
	}
	return target
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *types.Config) {
	for vendor, env := range apiKeyEnv {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]types.ProviderConfig)
		}
		pc := cfg.Providers[vendor]
		if pc.APIKey == "" {
			pc.APIKey = key
			cfg.Providers[vendor] = pc
		}
	}
	if model := os.Getenv("OCTOMIND_MODEL"); model != "" {
		cfg.Model = model
	}
	if role := os.Getenv("OCTOMIND_ROLE"); role != "" {
		cfg.Role = role
	}
	if level := os.Getenv("OCTOMIND_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

// Save writes cfg as indented JSON.
func Save(cfg *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
