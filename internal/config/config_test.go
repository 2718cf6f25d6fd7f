package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hlsmerge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
ffmpeg: /opt/ffmpeg/bin/ffmpeg
work_dir: /tmp/merge
revalidate_prefix: true
cleanup: true
engine_log: /var/log/ffmpeg.log
`))
	require.NoError(t, err)

	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "/tmp/merge", cfg.WorkDir)
	assert.True(t, cfg.RevalidatePrefix)
	assert.True(t, cfg.Cleanup)
	assert.Equal(t, "/var/log/ffmpeg.log", cfg.EngineLog)
	// Unset keys keep their defaults
	assert.Equal(t, "info", cfg.EngineLogLevel)
	assert.False(t, cfg.Verbose)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "ffmpge: /usr/bin/ffmpeg\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		wantLevel string
	}{
		{"defaults", Defaults(), false, "info"},
		{"empty fields get defaults", Config{}, false, "info"},
		{"level is normalised", Config{EngineLogLevel: "DEBUG"}, false, "debug"},
		{"quiet level is rejected", Config{EngineLogLevel: "warning"}, true, ""},
		{"unknown level is rejected", Config{EngineLogLevel: "loud"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, cfg.EngineLogLevel)
			assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
		})
	}
}
