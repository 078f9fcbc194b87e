package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPluginsCommand(t *testing.T) {
	out, err := execute(t, "plugins")
	require.NoError(t, err)
	assert.Contains(t, out, "events   events-default")
	assert.Contains(t, out, "metrics  metrics-otel, metrics-prometheus")
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	yaml := `
prod:
  logging:
    logging-default:
      plugin: logging-default
      enabled: true
  services:
    api:
      plugin: greeter
      enabled: true
    off:
      plugin: greeter
      enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sec-config.yaml"), []byte(yaml), 0o600))
	t.Setenv("BSB_PROFILE", "")
	t.Setenv("BSB_CONFIG_FILE", "")

	out, err := execute(t, "check", "--cwd", dir, "--profile", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "profile: prod")
	assert.Contains(t, out, "logging  logging-default (logging-default)")
	assert.Contains(t, out, "service  api (greeter)")
	assert.NotContains(t, out, "service  off")
}

func TestCheckCommand_MissingFile(t *testing.T) {
	t.Setenv("BSB_CONFIG_FILE", "")
	_, err := execute(t, "check", "--cwd", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot find config file at")
}
