package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSensitiveCommands(t *testing.T) {
	sensitive := []string{
		"export OPENAI_API_KEY=sk-abc123",
		"echo mypassword | sudo -S apt update",
		"curl -H 'Authorization: Bearer token123'",
		"cat ~/.ssh/id_rsa # private_key backup",
		"gpg --passphrase hunter2 file.gpg",
		"export DB_PASS=supersecret",
	}
	for _, cmd := range sensitive {
		assert.Equal(t, Marker, Command(cmd), "command: %s", cmd)
	}
}

func TestBenignCommandsUnchanged(t *testing.T) {
	benign := []string{
		"git status",
		"ls -la /tmp",
		"go test ./...",
		"vim main.go",
		"docker compose up -d",
	}
	for _, cmd := range benign {
		assert.Equal(t, cmd, Command(cmd), "command: %s", cmd)
	}
}

func TestSensitiveNeverLeaksSecret(t *testing.T) {
	cmd := "export OPENAI_API_KEY=sk-abc123"
	out := Command(cmd)
	assert.NotContains(t, out, "sk-abc123")
}

func TestKeywords(t *testing.T) {
	out := Keywords("Call Acme Corp about the ACME contract", []string{"acme"})
	assert.Equal(t, "Call [redacted] Corp about the [redacted] contract", out)

	out = Keywords("nothing to hide", nil)
	assert.Equal(t, "nothing to hide", out)

	out = Keywords("name at start", []string{"name"})
	assert.Equal(t, "[redacted] at start", out)
}
