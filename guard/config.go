package guard

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AllowedTenants []string
	Audit          AuditConfig
}

type AuditConfig struct {
	JSONLPath      string
	RotateMaxBytes int64
}

type policyFile struct {
	AllowedTenants []string `yaml:"allowed_tenants"`
	Audit          struct {
		JSONLPath      string `yaml:"jsonl_path"`
		RotateMaxBytes int64  `yaml:"rotate_max_bytes"`
	} `yaml:"audit"`
}

// LoadPolicyFile merges a YAML policy file into cfg. File values extend the
// allowlist and fill unset audit fields.
func LoadPolicyFile(path string, cfg Config) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read guard policy: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return cfg, fmt.Errorf("parse guard policy: %w", err)
	}
	cfg.AllowedTenants = append(cfg.AllowedTenants, pf.AllowedTenants...)
	if cfg.Audit.JSONLPath == "" {
		cfg.Audit.JSONLPath = strings.TrimSpace(pf.Audit.JSONLPath)
	}
	if cfg.Audit.RotateMaxBytes == 0 {
		cfg.Audit.RotateMaxBytes = pf.Audit.RotateMaxBytes
	}
	return cfg, nil
}
