// Package security implements the source access policy: which origins
// (local process, remote network callers, messaging identities) may trigger
// side-effecting work.
package security

import (
	"net/netip"
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// Policy decides whether a request source is allowed. The zero value with
// Enforce false allows everything, matching a local single-user setup.
type Policy struct {
	// Enforce gates the whole policy; when false every source passes.
	Enforce bool

	// AllowedTelegramUserIDs and AllowedTelegramUsernames allowlist
	// messaging identities. Both empty means any identity is accepted.
	AllowedTelegramUserIDs   []string
	AllowedTelegramUsernames []string

	// AllowedSourceIPs lists IPs trusted for remote callers.
	AllowedSourceIPs []string

	// RequireTailscaleForRemote restricts remote callers to the mesh
	// ranges in TailscaleCIDRs.
	RequireTailscaleForRemote bool
	TailscaleCIDRs            []string
}

// DefaultPolicy returns the enforcing defaults: loopback-only remote IPs
// and the tailscale carrier range.
func DefaultPolicy() Policy {
	return Policy{
		Enforce:                   true,
		AllowedSourceIPs:          []string{"127.0.0.1", "::1"},
		RequireTailscaleForRemote: true,
		TailscaleCIDRs:            []string{"100.64.0.0/10"},
	}
}

// Allowed implements ports.AccessPolicy. The reason is a machine code, not
// a user-facing sentence.
func (p Policy) Allowed(src domain.SourceContext) (bool, string) {
	if !p.Enforce {
		return true, ""
	}

	source := strings.ToLower(strings.TrimSpace(src.Source))
	if source == "" {
		source = "local"
	}

	if source == "telegram" {
		if !p.telegramIdentityAllowed(src.UserID, src.Username) {
			return false, "telegram_identity_not_allowlisted"
		}
		return true, ""
	}

	ip := strings.TrimSpace(src.IP)
	ipAllowed := false
	for _, allowed := range p.AllowedSourceIPs {
		if ip != "" && ip == strings.TrimSpace(allowed) {
			ipAllowed = true
			break
		}
	}

	remote := source != "local" && source != "desktop_mic"
	if remote && p.RequireTailscaleForRemote && !ipInCIDRs(ip, p.TailscaleCIDRs) {
		return false, "remote_source_not_in_tailscale_range"
	}
	if remote && !ipAllowed {
		return false, "source_ip_not_allowlisted"
	}
	return true, ""
}

func (p Policy) telegramIdentityAllowed(userID, username string) bool {
	ids := trimmed(p.AllowedTelegramUserIDs)
	names := map[string]bool{}
	for _, n := range trimmed(p.AllowedTelegramUsernames) {
		names[strings.TrimPrefix(strings.ToLower(n), "@")] = true
	}
	if len(ids) == 0 && len(names) == 0 {
		return true
	}
	userID = strings.TrimSpace(userID)
	for _, id := range ids {
		if userID != "" && userID == id {
			return true
		}
	}
	username = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(username)), "@")
	return username != "" && names[username]
}

func ipInCIDRs(ip string, cidrs []string) bool {
	if ip == "" {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func trimmed(items []string) []string {
	var out []string
	for _, item := range items {
		if t := strings.TrimSpace(item); t != "" {
			out = append(out, t)
		}
	}
	return out
}
