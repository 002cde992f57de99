package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `{
	"id": 0,
	"members": [{"host": "a", "port": 1}, {"host": "b", "port": 2}, {"host": "c", "port": 3}],
	"port": 1,
	"dir": "/tmp/node0",
	"heartbeat_timeout": 0.5,
	"heartbeat_interval": 0.1,
	"election_timeout": 1.0,
	"rotate_interval": 30,
	"flush_interval": 0.05,
	"rpc_max_batch": 64,
	"applied_backlog": 1000
}`

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 0, cfg.ID)
	require.Equal(t, 3, cfg.N())
}

func TestLoadRejectsOutOfRangeID(t *testing.T) {
	path := writeConfig(t, `{"id": 5, "members": [{"host":"a","port":1}], "dir": "/tmp/x",
		"heartbeat_timeout": 0.5, "heartbeat_interval": 0.1, "election_timeout": 1.0,
		"rotate_interval": 30, "flush_interval": 0.05, "rpc_max_batch": 1}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsElectionTimeoutBelowHeartbeat(t *testing.T) {
	path := writeConfig(t, `{"id": 0, "members": [{"host":"a","port":1}], "dir": "/tmp/x",
		"heartbeat_timeout": 0.5, "heartbeat_interval": 1.0, "election_timeout": 0.5,
		"rotate_interval": 30, "flush_interval": 0.05, "rpc_max_batch": 1}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
