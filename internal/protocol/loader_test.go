package protocol

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jivan-ai/nexus/pkg/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	t.Run("yaml file with placeholder rendering", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "greet.yaml", `
name: greet
confirmation_policy: never
args_schema:
  person:
    type: string
    required: true
steps:
  - type: say
    text: "hello {{person}}, you said {{user_text}}"
`)

		protocols := LoadDir(dir, nil)
		require.Len(t, protocols, 1)
		assert.Equal(t, "greet", protocols[0].Spec.Name)
		assert.Equal(t, ".yaml", filepath.Ext(protocols[0].Spec.Source))

		engine := NewEngine(NewCatalog(protocols...), nil)
		res := engine.Run(context.Background(), RunRequest{
			Name:     "greet",
			UserText: "hi there",
			Args:     map[string]any{"person": "Ada"},
		})
		require.True(t, res.OK)
		require.Len(t, res.Events, 1)
		assert.Equal(t, "hello Ada, you said hi there", res.Events[0].Text)
	})

	t.Run("json list of definitions", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "bundle.json", `[
  {"name": "one", "confirmation_policy": "never", "steps": [{"type": "say", "text": "1"}]},
  {"name": "two", "confirmation_policy": "never", "steps": [{"type": "say", "text": "2"}]}
]`)

		protocols := LoadDir(dir, nil)
		require.Len(t, protocols, 2)
		assert.Equal(t, "one", protocols[0].Spec.Name)
		assert.Equal(t, "two", protocols[1].Spec.Name)
	})

	t.Run("side-effect default requires confirmation", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "risky.yaml", `
name: risky
side_effects: true
steps:
  - type: action
    name: shutdown_app
`)

		protocols := LoadDir(dir, nil)
		require.Len(t, protocols, 1)

		engine := NewEngine(NewCatalog(protocols...), nil)
		res := engine.Run(context.Background(), RunRequest{Name: "risky"})
		assert.Equal(t, domain.CodeConfirmationRequired, res.ErrorCode)
	})

	t.Run("lenient scalar decoding", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "quoted.yaml", `
name: quoted
confirmation_policy: never
side_effects: "true"
cooldown_s: "5"
steps:
  - type: say
    text: ok
`)

		protocols := LoadDir(dir, nil)
		require.Len(t, protocols, 1)
		assert.True(t, protocols[0].Spec.SideEffects)
		assert.Equal(t, 5, protocols[0].Spec.CooldownSeconds)
	})

	t.Run("malformed file is skipped", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "bad.yaml", "::: not yaml {{{")
		writeFile(t, dir, "good.yaml", "name: good\nconfirmation_policy: never\nsteps: []\n")

		protocols := LoadDir(dir, nil)
		require.Len(t, protocols, 1)
		assert.Equal(t, "good", protocols[0].Spec.Name)
	})

	t.Run("missing directory loads nothing", func(t *testing.T) {
		assert.Empty(t, LoadDir(filepath.Join(t.TempDir(), "nope"), nil))
	})

	t.Run("invalid name rejects the file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "evil.yaml", `name: "../escape"`+"\nsteps: []\n")
		assert.Empty(t, LoadDir(dir, nil))
	})
}
