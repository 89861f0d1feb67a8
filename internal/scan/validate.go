package scan

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/L1nMay/vulnorch/internal/model"
)

// ValidateAssets checks every asset has a usable engine host:
// - the ip field accepts a single IP or a CIDR block
// - otherwise the url field must carry a host (scheme optional)
func ValidateAssets(assets []model.Asset) error {
	if len(assets) == 0 {
		return ErrNoAssets
	}
	for _, a := range assets {
		if _, err := hostOf(a); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidAsset, assetLabel(a), err)
		}
	}
	return nil
}

// hostOf is the engine target host list for one asset.
func hostOf(a model.Asset) (string, error) {
	if ip := strings.TrimSpace(a.IP); ip != "" {
		if net.ParseIP(ip) != nil {
			return ip, nil
		}
		if _, ipnet, err := net.ParseCIDR(ip); err == nil && ipnet != nil {
			return ip, nil
		}
		if isHostname(ip) {
			return ip, nil
		}
		return "", fmt.Errorf("bad ip %q", ip)
	}

	raw := strings.TrimSpace(a.URL)
	if raw == "" {
		return "", fmt.Errorf("no ip or url")
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bad url %q", a.URL)
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil || isHostname(host) {
		return host, nil
	}
	return "", fmt.Errorf("bad url host %q", a.URL)
}

// isHostname accepts DNS names made of letters, digits and hyphens.
func isHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	if net.ParseIP(s) != nil {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return false
			}
		}
	}
	return true
}

func assetLabel(a model.Asset) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
