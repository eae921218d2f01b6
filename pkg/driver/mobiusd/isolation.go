package mobiusd

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// privateCIDRs bound the address space considered inside the isolation
// boundary.
var privateCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
}

// urlPattern finds endpoint references embedded in config values.
var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)

// checkCompliance enforces the spec's placement flags before any
// backend call is made. NetworkIsolated forbids external endpoints in
// component config; DataResidency forbids image overrides pulled from
// registries outside the allowed domain.
func checkCompliance(spec *types.DeploymentSpec, allowedSuffix string) error {
	for i := range spec.Components {
		comp := &spec.Components[i]
		if !comp.Enabled {
			continue
		}

		if spec.NetworkIsolated {
			if comp.Config[cfgExternal] == "true" {
				return complianceErr(comp.Name, fmt.Sprintf(
					"component %q is marked external but the workspace is network-isolated", comp.Name))
			}
			for key, value := range comp.Config {
				for _, raw := range urlPattern.FindAllString(value, -1) {
					host := urlHost(raw)
					if host == "" || hostInsideBoundary(host, allowedSuffix) {
						continue
					}
					return complianceErr(comp.Name, fmt.Sprintf(
						"component %q config key %q references external endpoint %s but the workspace is network-isolated",
						comp.Name, key, host))
				}
			}
		}

		if spec.DataResidency {
			override, ok := comp.Config[cfgImage]
			if !ok || override == "" {
				continue
			}
			registry := imageRegistry(override)
			if registry != "" && !hostInsideBoundary(registry, allowedSuffix) {
				return complianceErr(comp.Name, fmt.Sprintf(
					"component %q image %q is pulled from registry %s outside the data-residency boundary",
					comp.Name, override, registry))
			}
		}
	}
	return nil
}

func complianceErr(component, msg string) error {
	return errdefs.NewValidation(msg, nil).
		WithCode(errdefs.CodeComplianceViolation).
		WithComponent(component).
		WithHint("remove the external reference or disable the isolation flag for this workspace")
}

// hostInsideBoundary reports whether a hostname is localhost, a private
// address, or under the operator-allowed domain suffix.
func hostInsideBoundary(host, allowedSuffix string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if allowedSuffix != "" && (host == strings.TrimPrefix(allowedSuffix, ".") || strings.HasSuffix(host, allowedSuffix)) {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, cidr := range privateCIDRs {
			if matchCIDR(ip, cidr) {
				return true
			}
		}
	}
	return false
}

// urlHost extracts the hostname from a raw URL, trimming any port.
func urlHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// imageRegistry returns the registry host of an image reference, or ""
// when the image resolves against the default registry. The first path
// segment is a registry when it contains a dot, a colon, or is
// "localhost".
func imageRegistry(image string) string {
	first, _, found := strings.Cut(image, "/")
	if !found {
		return ""
	}
	if first == "localhost" || strings.ContainsAny(first, ".:") {
		// Strip a port if present.
		if host, _, err := net.SplitHostPort(first); err == nil {
			return host
		}
		return first
	}
	return ""
}

// matchCIDR checks if an IP matches a CIDR range
func matchCIDR(ip net.IP, cidr string) bool {
	if !strings.Contains(cidr, "/") {
		parsedIP := net.ParseIP(cidr)
		if parsedIP == nil {
			return false
		}
		return ip.Equal(parsedIP)
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}
