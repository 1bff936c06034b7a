// Package validation provides validation functions for environment entities
// and feed delta records. Naming rules follow what the container engine
// accepts for container and network identifiers.
package validation

import (
	"fmt"
	"net"
	"strings"

	"github.com/avigil/guardlab/internal/domain"
)

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlphaNum returns true if the byte is an ASCII letter or digit.
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isNum(b)
}

// ValidateHostname validates a container hostname.
// Hostnames must start with a letter, contain only letters, numbers, or
// hyphens, and fit in a DNS label (63 bytes).
func ValidateHostname(name string) error {
	if name == "" {
		return fmt.Errorf("hostname must not be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("hostname must be at most 63 characters")
	}
	if !isAlpha(name[0]) {
		return fmt.Errorf("hostname must start with a letter")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '-' {
			return fmt.Errorf("hostnames can only contain letters, numbers, or hyphens")
		}
	}
	return nil
}

// ValidateEnvironmentName validates an environment name.
// Same rules as hostnames: the name ends up in container labels and network
// names, so it has to be engine-safe.
func ValidateEnvironmentName(name string) error {
	if name == "" {
		return fmt.Errorf("environment name must not be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("environment name must be at most 63 characters")
	}
	if !isAlpha(name[0]) {
		return fmt.Errorf("environment name must start with a letter")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '-' {
			return fmt.Errorf("environment names can only contain letters, numbers, or hyphens")
		}
	}
	return nil
}

// ValidateNetworkName validates a docker network name.
// Network names must start with a letter or digit and can contain letters,
// numbers, hyphens, underscores, or dots.
func ValidateNetworkName(name string) error {
	if name == "" {
		return fmt.Errorf("network name must not be empty")
	}
	if !isAlphaNum(name[0]) {
		return fmt.Errorf("network name must start with a letter or digit")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '-' && b != '_' && b != '.' {
			return fmt.Errorf("network names can only contain letters, numbers, hyphens, underscores, or dots")
		}
	}
	return nil
}

// ValidateImageRef validates a container image reference of the form
// [registry/]repository[:tag]. Digest references are accepted unchecked.
func ValidateImageRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("image must not be empty")
	}
	if strings.ContainsAny(ref, " \t") {
		return fmt.Errorf("image must not contain whitespace")
	}
	if strings.Contains(ref, "@") {
		// repository@sha256:... digest form
		return nil
	}

	repo := ref
	// The tag separator is the last colon after the last slash; earlier
	// colons belong to a registry host:port.
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		repo = ref[:i]
		tag := ref[i+1:]
		if tag == "" {
			return fmt.Errorf("image tag must not be empty")
		}
		for _, b := range []byte(tag) {
			if !isAlphaNum(b) && b != '-' && b != '_' && b != '.' {
				return fmt.Errorf("image tag contains invalid character")
			}
		}
	}
	if repo == "" {
		return fmt.Errorf("image repository must not be empty")
	}
	for _, b := range []byte(repo) {
		if b >= 'A' && b <= 'Z' {
			return fmt.Errorf("image repository must be lowercase")
		}
		if !isAlphaNum(b) && b != '-' && b != '_' && b != '.' && b != '/' && b != ':' {
			return fmt.Errorf("image repository contains invalid character")
		}
	}
	return nil
}

// ValidateAddress validates a static container IP address.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	if ip := net.ParseIP(addr); ip == nil {
		return fmt.Errorf("must be a valid IP address")
	}
	return nil
}

// ValidateSubnet validates a network subnet in CIDR notation.
func ValidateSubnet(subnet string) error {
	if subnet == "" {
		return fmt.Errorf("subnet must not be empty")
	}
	if _, _, err := net.ParseCIDR(subnet); err != nil {
		return fmt.Errorf("must be a valid CIDR")
	}
	return nil
}

// ValidatePortBinding validates a port binding of the form
// host:container[/proto] where proto is tcp or udp.
func ValidatePortBinding(binding string) error {
	if binding == "" {
		return fmt.Errorf("port binding must not be empty")
	}

	spec := binding
	if i := strings.Index(binding, "/"); i != -1 {
		spec = binding[:i]
		proto := binding[i+1:]
		if proto != "tcp" && proto != "udp" {
			return fmt.Errorf("port protocol must be tcp or udp")
		}
	}

	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return fmt.Errorf("port binding must be host:container")
	}
	for _, p := range parts {
		if !isValidPortNumber(p) {
			return fmt.Errorf("invalid port number: %s", p)
		}
	}
	return nil
}

// isValidPortNumber checks if a string is a valid port number (1-65535).
func isValidPortNumber(s string) bool {
	if s == "" {
		return false
	}
	num := 0
	for _, b := range []byte(s) {
		if !isNum(b) {
			return false
		}
		num = num*10 + int(b-'0')
		if num > 65535 {
			return false
		}
	}
	return num > 0 && num <= 65535
}

// ValidateRole validates a cluster role name.
func ValidateRole(role domain.Role) error {
	if role == "" {
		return fmt.Errorf("role must not be empty")
	}
	if !domain.ValidRole(role) {
		return fmt.Errorf("role must be one of master, worker, agent")
	}
	return nil
}
