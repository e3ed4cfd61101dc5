package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jivan-ai/nexus/pkg/domain"
)

func TestPolicyAllowed(t *testing.T) {
	t.Run("not enforcing allows everything", func(t *testing.T) {
		ok, reason := Policy{}.Allowed(domain.SourceContext{Source: "http", IP: "203.0.113.5"})
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("local source always allowed", func(t *testing.T) {
		ok, _ := DefaultPolicy().Allowed(domain.LocalSource())
		assert.True(t, ok)
	})

	t.Run("empty source treated as local", func(t *testing.T) {
		ok, _ := DefaultPolicy().Allowed(domain.SourceContext{})
		assert.True(t, ok)
	})

	t.Run("telegram identity allowlist", func(t *testing.T) {
		p := DefaultPolicy()
		p.AllowedTelegramUserIDs = []string{"100"}
		p.AllowedTelegramUsernames = []string{"@Alice"}

		ok, _ := p.Allowed(domain.SourceContext{Source: "telegram", UserID: "100"})
		assert.True(t, ok)

		ok, _ = p.Allowed(domain.SourceContext{Source: "telegram", Username: "alice"})
		assert.True(t, ok)

		ok, reason := p.Allowed(domain.SourceContext{Source: "telegram", UserID: "999"})
		assert.False(t, ok)
		assert.Equal(t, "telegram_identity_not_allowlisted", reason)
	})

	t.Run("empty telegram allowlist accepts any identity", func(t *testing.T) {
		ok, _ := DefaultPolicy().Allowed(domain.SourceContext{Source: "telegram", UserID: "7"})
		assert.True(t, ok)
	})

	t.Run("remote requires mesh range", func(t *testing.T) {
		p := DefaultPolicy()
		p.AllowedSourceIPs = []string{"100.64.1.2"}

		ok, _ := p.Allowed(domain.SourceContext{Source: "http", IP: "100.64.1.2"})
		assert.True(t, ok)

		ok, reason := p.Allowed(domain.SourceContext{Source: "http", IP: "203.0.113.5"})
		assert.False(t, ok)
		assert.Equal(t, "remote_source_not_in_tailscale_range", reason)
	})

	t.Run("remote in mesh range but not allowlisted", func(t *testing.T) {
		p := DefaultPolicy()
		ok, reason := p.Allowed(domain.SourceContext{Source: "http", IP: "100.64.9.9"})
		assert.False(t, ok)
		assert.Equal(t, "source_ip_not_allowlisted", reason)
	})

	t.Run("unparseable ip rejected for remote", func(t *testing.T) {
		ok, reason := DefaultPolicy().Allowed(domain.SourceContext{Source: "http", IP: "not-an-ip"})
		assert.False(t, ok)
		assert.NotEmpty(t, reason)
	})
}
