// Package security checks the targets of outbound requests carrying
// propagated headers.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrOutboundURL = errors.New("outbound URL rejected")

// OutboundPolicy says which targets may receive forwarded request headers.
type OutboundPolicy struct {
	// AllowHTTP permits plain http targets. https is always allowed.
	AllowHTTP bool `json:"allow_http" yaml:"allow_http" mapstructure:"allow_http"`
	// AllowLocalNetworks permits localhost names and loopback, private and
	// link-local addresses.
	AllowLocalNetworks bool `json:"allow_local_networks" yaml:"allow_local_networks" mapstructure:"allow_local_networks"`
}

// Permissive allows any http(s) target, for tests and local development.
func Permissive() OutboundPolicy {
	return OutboundPolicy{AllowHTTP: true, AllowLocalNetworks: true}
}

// Check returns an error wrapping ErrOutboundURL when rawURL must not be
// called. IP literals are checked without DNS lookups.
func (p OutboundPolicy) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(ErrOutboundURL, "%q: %v", rawURL, err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !p.AllowHTTP {
			return errors.Wrapf(ErrOutboundURL, "%q: plain http", rawURL)
		}
	default:
		return errors.Wrapf(ErrOutboundURL, "%q: scheme %q", rawURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.Wrapf(ErrOutboundURL, "%q: no host", rawURL)
	}
	if !p.AllowLocalNetworks && isLocalName(host) {
		return errors.Wrapf(ErrOutboundURL, "%q: local host name", rawURL)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !p.AllowLocalNetworks {
		return errors.Wrapf(ErrOutboundURL, "%q: zoned address", rawURL)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Wrapf(ErrOutboundURL, "%q: unroutable address", rawURL)
	}
	if !p.AllowLocalNetworks && isLocalAddr(addr) {
		return errors.Wrapf(ErrOutboundURL, "%q: local network address", rawURL)
	}
	return nil
}

func isLocalName(host string) bool {
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}

func isLocalAddr(a netip.Addr) bool {
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast()
}
