package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachefs/internal/logging"
	"cachefs/internal/memfs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cachefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, memfs.DefaultFlushInterval, cfg.FlushInterval)
	assert.False(t, cfg.AllowOther)
}

func TestLoadFlagsOnly(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	source := t.TempDir()

	cfg, err := Load("cachefs", []string{"--source", source, "--mount", "/mnt/cache/"})
	require.NoError(t, err)

	assert.Equal(t, source, cfg.Source)
	assert.Equal(t, "/mnt/cache", cfg.Mount)
	assert.Equal(t, memfs.DefaultFlushInterval, cfg.FlushInterval)
	assert.Equal(t, logging.LevelInfo, cfg.Level())
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	source := t.TempDir()
	path := writeConfig(t, "source: "+source+"\n"+
		"mount: /mnt/from-file\n"+
		"log_level: debug\n"+
		"flush_interval: 30s\n"+
		"allow_other: true\n")

	t.Run("FileOverDefaults", func(t *testing.T) {
		cfg, err := Load("cachefs", []string{"--config", path})
		require.NoError(t, err)

		assert.Equal(t, "/mnt/from-file", cfg.Mount)
		assert.Equal(t, 30*time.Second, cfg.FlushInterval)
		assert.Equal(t, logging.LevelDebug, cfg.Level())
		assert.True(t, cfg.AllowOther)
	})

	t.Run("FlagsOverFile", func(t *testing.T) {
		cfg, err := Load("cachefs", []string{
			"--config", path,
			"--mount", "/mnt/from-flag",
			"--flush-interval", "2s",
			"--log-level", "w",
			"--allow-other=false",
		})
		require.NoError(t, err)

		assert.Equal(t, "/mnt/from-flag", cfg.Mount)
		assert.Equal(t, 2*time.Second, cfg.FlushInterval)
		assert.Equal(t, logging.LevelWarn, cfg.Level())
		assert.False(t, cfg.AllowOther)
		assert.Equal(t, source, cfg.Source)
	})

	t.Run("EnvironmentConfigFile", func(t *testing.T) {
		t.Setenv(EnvConfigFile, path)
		cfg, err := Load("cachefs", nil)
		require.NoError(t, err)
		assert.Equal(t, "/mnt/from-file", cfg.Mount)
	})
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	source := t.TempDir()
	file := filepath.Join(source, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"missing mount", []string{"--source", source}},
		{"missing source", []string{"--mount", "/mnt"}},
		{"source not found", []string{"--source", filepath.Join(source, "nope"), "--mount", "/mnt"}},
		{"source is file", []string{"--source", file, "--mount", "/mnt"}},
		{"zero interval", []string{"--source", source, "--mount", "/mnt", "--flush-interval", "0s"}},
		{"bad level", []string{"--source", source, "--mount", "/mnt", "--log-level", "loud"}},
		{"missing config file", []string{"--config", filepath.Join(source, "absent.yaml")}},
		{"unknown flag", []string{"--bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("cachefs", tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := Load("cachefs", []string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadFileMalformed(t *testing.T) {
	path := writeConfig(t, "flush_interval: [not, a, duration]\n")
	cfg := Default()
	assert.Error(t, cfg.LoadFile(path))
}
