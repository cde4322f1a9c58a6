// Package config resolves Bauplan profiles from the configuration file
// (usually ~/.config/bauplan.yaml) and BAUPLAN_* environment variables.
//
// The file holds named profiles:
//
//	profiles:
//	  default:
//	    api_key: bpln_...
//	  staging:
//	    api_key: bpln_...
//	    api_endpoint: https://api.staging.example.com
//	    active_branch: alice.dev
//
// Environment variables override the file:
//
//	BAUPLAN_PROFILE       selects the profile (default "default")
//	BAUPLAN_API_KEY       overrides api_key
//	BAUPLAN_API_ENDPOINT  overrides api_endpoint
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bauplanlabs/bauplan-go/pkg/client"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// DefaultProfile is used when no profile is named.
const DefaultProfile = "default"

// UserAgentProduct is the default User-Agent product token.
const UserAgentProduct = "bauplan-go"

// Version is reported in the User-Agent. Release builds override it with
// -ldflags "-X github.com/bauplanlabs/bauplan-go/pkg/config.Version=...".
var Version = "dev"

var (
	// ErrNoAPIKey means neither the profile nor the environment set a key.
	ErrNoAPIKey = errors.New("no API key found")

	// ErrInvalidAPIKey means the key contains non-ASCII characters.
	ErrInvalidAPIKey = errors.New("API key contains invalid characters")

	// ErrProfileNotFound means the config file has no profile by that name.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInvalidEndpoint means api_endpoint is not an http(s) URL.
	ErrInvalidEndpoint = errors.New("invalid API endpoint")
)

// configCandidates are searched under $HOME in order. The first is canonical.
var configCandidates = []string{
	".config/bauplan.yaml",
	".config/bauplan.yml",
	".bauplan/config.yaml",
	".bauplan/config.yml",
}

// Profile is a fully resolved configuration profile.
type Profile struct {
	Name         string `koanf:"-"`
	APIEndpoint  string `koanf:"api_endpoint"`
	APIKey       string `koanf:"api_key"`
	ActiveBranch string `koanf:"active_branch"`
	UserAgent    string `koanf:"-"`

	// ConfigPath is the file the profile was read from, or the canonical
	// location when no file exists.
	ConfigPath string `koanf:"-"`
}

// String masks the API key.
func (p Profile) String() string {
	return fmt.Sprintf("Profile{Name: %q, APIEndpoint: %q, APIKey: %q, ActiveBranch: %q}",
		p.Name, p.APIEndpoint, "********", p.ActiveBranch)
}

// WithUserAgentProduct replaces the product token of the User-Agent.
func (p *Profile) WithUserAgentProduct(product string) *Profile {
	p.UserAgent = userAgent(product)
	return p
}

// ClientConfig returns a client configuration for this profile with the
// client's defaults for everything the profile does not set.
func (p *Profile) ClientConfig() client.Config {
	cfg := client.DefaultConfig(p.APIKey, p.UserAgent)
	cfg.APIEndpoint = p.APIEndpoint
	return cfg
}

// FindConfig returns the config file under home, falling back to the
// canonical path when none exists.
func FindConfig(home string) string {
	for _, candidate := range configCandidates {
		path := filepath.Join(home, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(home, configCandidates[0])
}

// Load resolves a profile from the config file and the environment. An empty
// name selects BAUPLAN_PROFILE, then DefaultProfile. A missing config file is
// not an error; the profile then comes from the environment alone.
func Load(name string) (*Profile, error) {
	envK := koanf.New(".")
	if err := envK.Load(env.Provider("BAUPLAN_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if name == "" {
		name = envK.String("profile")
	}
	if name == "" {
		name = DefaultProfile
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locate config file: %w", err)
	}
	path := FindConfig(home)

	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	section, err := readProfile(path, name)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("path", path).Msg("No config file found")
	case err != nil:
		return nil, err
	default:
		if err := k.Merge(section); err != nil {
			return nil, fmt.Errorf("merge profile %q: %w", name, err)
		}
	}

	// Only the keys a profile carries; BAUPLAN_PROFILE is not one. Empty
	// variables count as unset.
	for _, key := range []string{"api_key", "api_endpoint"} {
		if v := envK.String(key); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("apply %s from environment: %w", key, err)
			}
		}
	}

	return finish(k, name, path)
}

// LoadFile reads a profile from path without consulting the environment.
// An empty name selects DefaultProfile.
func LoadFile(path, name string) (*Profile, error) {
	if name == "" {
		name = DefaultProfile
	}

	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	section, err := readProfile(path, name)
	if err != nil {
		return nil, err
	}
	if err := k.Merge(section); err != nil {
		return nil, fmt.Errorf("merge profile %q: %w", name, err)
	}

	return finish(k, name, path)
}

// LoadAll reads every profile in path, sorted by name, without consulting
// the environment.
func LoadAll(path string) ([]*Profile, error) {
	fileK, err := readFile(path)
	if err != nil {
		return nil, err
	}

	names := fileK.MapKeys("profiles")
	slices.Sort(names)

	profiles := make([]*Profile, 0, len(names))
	for _, name := range names {
		p, err := LoadFile(path, name)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func loadDefaults(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(map[string]any{
		"api_endpoint": client.DefaultAPIEndpoint,
	}, "."), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	return nil
}

func readFile(path string) (*koanf.Koanf, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	fileK := koanf.New(".")
	if err := fileK.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return fileK, nil
}

func readProfile(path, name string) (*koanf.Koanf, error) {
	fileK, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(fileK.MapKeys("profiles"), name) {
		return nil, fmt.Errorf("%w: %q in %s", ErrProfileNotFound, name, path)
	}

	log.Debug().Str("path", path).Str("profile", name).Msg("Loaded config file")
	return fileK.Cut("profiles." + name), nil
}

func finish(k *koanf.Koanf, name, path string) (*Profile, error) {
	var p Profile
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("decode profile %q: %w", name, err)
	}
	p.Name = name
	p.ConfigPath = path
	p.UserAgent = userAgent("")

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if p.APIKey == "" {
		return ErrNoAPIKey
	}
	for i := 0; i < len(p.APIKey); i++ {
		if p.APIKey[i] >= 0x80 {
			return ErrInvalidAPIKey
		}
	}

	u, err := url.Parse(p.APIEndpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, p.APIEndpoint)
	}
	return nil
}

// envKey maps BAUPLAN_API_KEY to api_key. Unknown variables are skipped.
func envKey(s string) string {
	switch key := strings.ToLower(strings.TrimPrefix(s, "BAUPLAN_")); key {
	case "api_key", "api_endpoint", "profile":
		return key
	default:
		return ""
	}
}

func userAgent(product string) string {
	if product == "" {
		product = UserAgentProduct
	}
	return product + "/" + Version
}
