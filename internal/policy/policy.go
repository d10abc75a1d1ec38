// Package policy holds the configurable risk-classification policy data.
//
// Trusted domain suffixes, authentication-callback path shapes, dangerous
// pseudo-schemes and the malicious-URL signature set are policy data, not
// architecture: they ship with working defaults and can be replaced wholesale
// from a YAML file without touching the decision logic.
package policy

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"golang.org/x/net/publicsuffix"
)

// Signatures describes the malicious-URL signature set consumed by the
// heuristics matcher.
type Signatures struct {
	// AdDomains are known ad-exchange hosts, matched by suffix.
	AdDomains []string `yaml:"ad_domains"`
	// SuspiciousParams are query parameter names seen on forced redirects.
	SuspiciousParams []string `yaml:"suspicious_params"`
	// TrackingParamShapes are regular expressions matching PHP-style
	// tracking parameter shapes in the raw query string.
	TrackingParamShapes []string `yaml:"tracking_param_shapes"`
	// RiskyTLDs are top-level domains with a high abuse rate.
	RiskyTLDs []string `yaml:"risky_tlds"`
}

// Policy is the full risk-classification policy.
type Policy struct {
	// TrustedSuffixes are public suffixes treated as low risk for
	// href/assign-style navigation (government, education, organization).
	TrustedSuffixes []string `yaml:"trusted_suffixes"`
	// AuthCallbackPaths are path fragments marking OAuth/SSO callback
	// shapes, treated as low risk for href/assign-style navigation.
	AuthCallbackPaths []string `yaml:"auth_callback_paths"`
	// DangerousSchemes are pseudo-schemes blocked outright on
	// href/assign-style navigation.
	DangerousSchemes []string `yaml:"dangerous_schemes"`
	// Signatures is the malicious-URL signature set.
	Signatures Signatures `yaml:"signatures"`
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		TrustedSuffixes: []string{
			"gov", "edu", "org", "mil",
			"gov.uk", "ac.uk", "edu.au", "gouv.fr",
		},
		AuthCallbackPaths: []string{
			"/oauth", "/callback", "/auth/", "/signin", "/sso",
			"/login/callback", "/connect/authorize", "/authorize",
		},
		DangerousSchemes: []string{"data", "vbscript", "blob", "filesystem"},
		Signatures: Signatures{
			AdDomains: []string{
				"ads.example", "adexchange.net", "popunder.net",
				"clicktrack.biz", "trafficjunky.net", "adcash.com",
				"propellerads.com", "popads.net",
			},
			SuspiciousParams: []string{
				"clickid", "popunder", "zoneid", "aff_sub", "utm_pop",
			},
			TrackingParamShapes: []string{
				`(^|&)param_\d+=`,
				`(^|&)p\d{2,}=`,
				`\.php\?.*(id|ref|aff)=\d+`,
			},
			RiskyTLDs: []string{"xyz", "top", "click", "loan", "work", "gq", "tk"},
		},
	}
}

// Load reads a YAML policy file. Sections left empty in the file fall back
// to the built-in defaults, so a partial override file stays valid.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	def := Default()
	if len(p.TrustedSuffixes) == 0 {
		p.TrustedSuffixes = def.TrustedSuffixes
	}
	if len(p.AuthCallbackPaths) == 0 {
		p.AuthCallbackPaths = def.AuthCallbackPaths
	}
	if len(p.DangerousSchemes) == 0 {
		p.DangerousSchemes = def.DangerousSchemes
	}
	if len(p.Signatures.AdDomains) == 0 {
		p.Signatures.AdDomains = def.Signatures.AdDomains
	}
	if len(p.Signatures.SuspiciousParams) == 0 {
		p.Signatures.SuspiciousParams = def.Signatures.SuspiciousParams
	}
	if len(p.Signatures.TrackingParamShapes) == 0 {
		p.Signatures.TrackingParamShapes = def.Signatures.TrackingParamShapes
	}
	if len(p.Signatures.RiskyTLDs) == 0 {
		p.Signatures.RiskyTLDs = def.Signatures.RiskyTLDs
	}

	return &p, nil
}

// LoadOrDefault loads a policy file, falling back to defaults when the path
// is empty or unreadable.
func LoadOrDefault(path string) *Policy {
	if path == "" {
		return Default()
	}
	p, err := Load(path)
	if err != nil {
		return Default()
	}
	return p
}

// IsTrustedDomain reports whether the URL's host sits under a trusted
// public suffix (e.g. .gov, .edu, .ac.uk).
func (p *Policy) IsTrustedDomain(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return false
	}

	suffix, _ := publicsuffix.PublicSuffix(strings.ToLower(u.Hostname()))
	for _, trusted := range p.TrustedSuffixes {
		if suffix == trusted {
			return true
		}
	}
	return false
}

// IsAuthCallback reports whether the URL path matches a known
// authentication-callback shape.
func (p *Policy) IsAuthCallback(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, shape := range p.AuthCallbackPaths {
		if strings.Contains(path, shape) {
			return true
		}
	}
	return false
}

// IsDangerousScheme reports whether the URL uses a blocked pseudo-scheme.
func (p *Policy) IsDangerousScheme(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	for _, dangerous := range p.DangerousSchemes {
		if scheme == dangerous {
			return true
		}
	}
	return false
}
