package checkers

import (
	"fmt"
	"net/url"
	"strings"
)

// BrowserPolicy gates navigation by hostname. Modes mirror the networking
// profile configuration: allowlist, denylist, or island (block everything).
type BrowserPolicy struct {
	Mode      string   `yaml:"mode"` // "allowlist" | "denylist" | "island"
	Allowlist []string `yaml:"allowlist,omitempty"`
	Denylist  []string `yaml:"denylist,omitempty"`
}

// Check reports whether navigating to rawURL is allowed.
func (p *BrowserPolicy) Check(rawURL, act string) (bool, string) {
	_ = act
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false, fmt.Sprintf("unparsable url %q", rawURL)
	}
	host := strings.ToLower(u.Hostname())

	switch p.Mode {
	case "island":
		return false, "island mode blocks all navigation"
	case "allowlist":
		for _, h := range p.Allowlist {
			if hostMatches(host, h) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("host %s not in allowlist", host)
	case "denylist":
		for _, h := range p.Denylist {
			if hostMatches(host, h) {
				return false, fmt.Sprintf("host %s is denylisted", host)
			}
		}
		return true, ""
	default:
		return true, ""
	}
}

// hostMatches accepts exact hosts and subdomains of a configured suffix.
func hostMatches(host, configured string) bool {
	configured = strings.ToLower(configured)
	return host == configured || strings.HasSuffix(host, "."+configured)
}
