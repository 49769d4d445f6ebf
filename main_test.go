package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/models"
)

func TestConnectorTimeouts(t *testing.T) {
	timeouts := connectorTimeouts(config.ConnectorsConfig{
		DHIS2: config.TimeoutConfig{ConnectTimeout: 5 * time.Second, ReadTimeout: 60 * time.Second},
		SQL:   config.TimeoutConfig{ConnectTimeout: 3 * time.Second, ReadTimeout: 20 * time.Second},
	})

	assert.Equal(t, 60*time.Second, timeouts[models.ConnectorDHIS2].Read)
	assert.Equal(t, 3*time.Second, timeouts[models.ConnectorOracle].Connect)
	assert.Len(t, timeouts, 6)
}

func TestTestConnectionCmd_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.db")
	params, err := json.Marshal(map[string]any{"filename": path})
	require.NoError(t, err)

	cmd := testConnectionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--type", "sqlite3", "--config", string(params)})

	require.NoError(t, cmd.Execute())

	var result models.TestResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.Success, result.Message)
}

func TestTestConnectionCmd_YAMLConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sqlite.yaml")
	require.NoError(t, os.WriteFile(file, []byte("filename: "+filepath.Join(dir, "probe.db")+"\n"), 0o600))

	cmd := testConnectionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--type", "sqlite", "--config-file", file})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"success": true`)
}

func TestTestConnectionCmd_Failure(t *testing.T) {
	cmd := testConnectionCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--type", "sqlite", "--config", "{}"})

	assert.EqualError(t, cmd.Execute(), "connection test failed")

	cmd = testConnectionCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--type", "sqlite", "--config", "not json"})
	assert.Error(t, cmd.Execute())
}
