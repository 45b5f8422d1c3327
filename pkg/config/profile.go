package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/weave/pkg/artifacts"
	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/runtime/budget"
)

// Profile is a named engine profile. Zero fields leave defaults alone.
type Profile struct {
	Name        string             `yaml:"name" json:"name"`
	Settings    contracts.Settings `yaml:"settings" json:"settings"`
	Limits      budget.Limits      `yaml:"limits" json:"limits"`
	FCPMaxDepth int                `yaml:"fcp_max_depth,omitempty" json:"fcp_max_depth,omitempty"`
	Fetch       FetchPolicy        `yaml:"fetch" json:"fetch"`
	Artifacts   artifacts.Config   `yaml:"artifacts" json:"artifacts"`
}

// FetchPolicy controls live deterministic fetches.
type FetchPolicy struct {
	OutboundMode string   `yaml:"outbound_mode" json:"outbound_mode"` // "allowlist" | "denylist" | "island"
	Allowlist    []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Denylist     []string `yaml:"denylist,omitempty" json:"denylist,omitempty"`
	IslandMode   bool     `yaml:"island_mode" json:"island_mode"` // if true, block all outbound
	RPS          float64  `yaml:"rps,omitempty" json:"rps,omitempty"`
	Burst        int      `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// LoadProfile reads a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	if profile.Name == "" {
		// profile_dev.yaml -> dev
		base := filepath.Base(path)
		profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), filepath.Ext(base))
	}
	return &profile, nil
}

// LoadNamedProfile loads profile_<name>.yaml from dir.
func LoadNamedProfile(dir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	return LoadProfile(filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", name)))
}

func (p *Profile) apply(cfg *Config) {
	cfg.Settings = p.Settings
	cfg.Limits = p.Limits.Merge(cfg.Limits)
	if p.FCPMaxDepth > 0 {
		cfg.FCPMaxDepth = p.FCPMaxDepth
	}
	if p.Artifacts.Type != "" {
		cfg.Artifacts = p.Artifacts
	}

	fetch := p.Fetch
	if fetch.RPS == 0 {
		fetch.RPS = cfg.Fetch.RPS
	}
	if fetch.Burst == 0 {
		fetch.Burst = cfg.Fetch.Burst
	}
	cfg.Fetch = fetch
}

// IsIslandMode returns true if the policy blocks all live fetches.
func (f FetchPolicy) IsIslandMode() bool {
	return f.IslandMode || f.OutboundMode == "island"
}

// IsAllowed checks if a hostname may be fetched.
func (f FetchPolicy) IsAllowed(hostname string) bool {
	if f.IsIslandMode() {
		return false
	}

	switch f.OutboundMode {
	case "allowlist":
		for _, h := range f.Allowlist {
			if strings.EqualFold(h, hostname) {
				return true
			}
		}
		return false
	case "denylist":
		for _, h := range f.Denylist {
			if strings.EqualFold(h, hostname) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
