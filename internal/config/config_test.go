// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the override variables for the duration of a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RIGCHAT_URL", "RIGCHAT_MODEL", "RIGCHAT_STORAGE", "RIGCHAT_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:11434", cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.True(t, cfg.Chat.AutoTitle)
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.True(t, cfg.UI.SidebarOpen)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFrom_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[server]
url = "http://gpu-box:11434"
request_timeout_secs = 0

[chat]
default_model = "llama3.2"
auto_title = false
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.Server.URL)
	assert.Equal(t, time.Duration(0), cfg.RequestTimeout(), "0 disables the timeout")
	assert.Equal(t, "llama3.2", cfg.Chat.DefaultModel)
	assert.False(t, cfg.Chat.AutoTitle)
	assert.True(t, cfg.Chat.RenderMarkdown, "absent keys keep defaults")
	assert.Equal(t, 30, cfg.UI.MaxFPS)
}

func TestLoadFrom_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"bad url", "[server]\nurl = \"localhost:11434\"\n", "server"},
		{"negative timeout", "[server]\nrequest_timeout_secs = -5\n", "server"},
		{"bad backend", "[storage]\nbackend = \"postgres\"\n", "storage"},
		{"bad level", "[log]\nlevel = \"loud\"\n", "log"},
		{"bad fps", "[ui]\nmax_fps = 1000\n", "ui"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			writeFile(t, path, tt.content)

			_, err := LoadFrom(path)
			require.Error(t, err)
			var verrs validation.Errors
			require.ErrorAs(t, err, &verrs)
			assert.Contains(t, verrs, tt.field)
		})
	}
}

func TestLoadFrom_SyntaxAndUnknownKeys(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.toml")
	writeFile(t, broken, "[server\nurl=")
	_, err := LoadFrom(broken)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.toml")
	writeFile(t, unknown, "[server]\nport = 1\n")
	_, err = LoadFrom(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RIGCHAT_URL", "http://10.0.0.2:11434/")
	t.Setenv("RIGCHAT_MODEL", "mistral")
	t.Setenv("RIGCHAT_STORAGE", "SQLite")
	t.Setenv("RIGCHAT_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "http://10.0.0.2:11434", cfg.Server.URL)
	assert.Equal(t, "mistral", cfg.Chat.DefaultModel)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFile_IgnoresEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[chat]\ndefault_model = \"llama2\"\n")
	t.Setenv("RIGCHAT_MODEL", "mistral")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "llama2", cfg.Chat.DefaultModel)

	cfg, err = LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.Chat.DefaultModel)
}

func TestSaveAndReload(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Server.URL = "https://llm.lan"
	cfg.Chat.DefaultModel = "qwen2.5"
	cfg.UI.SidebarOpen = false
	require.NoError(t, SaveTo(cfg, path))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("server.url", "http://other:11434"))
	require.NoError(t, cfg.Set("server.request_timeout_secs", "90"))
	require.NoError(t, cfg.Set("chat.auto_title", "off"))
	require.NoError(t, cfg.Set("ui.max_fps", 60))
	require.NoError(t, cfg.Set("UI.Sidebar-Open", "false"))

	assert.Equal(t, "http://other:11434", cfg.Server.URL)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout())
	assert.False(t, cfg.Chat.AutoTitle)
	assert.Equal(t, 60, cfg.UI.MaxFPS)
	assert.False(t, cfg.UI.SidebarOpen)

	v, err := cfg.Get("server.url")
	require.NoError(t, err)
	assert.Equal(t, "http://other:11434", v)

	assert.Error(t, cfg.Set("server.nope", "x"))
	assert.Error(t, cfg.Set("server", "x"), "sections are not values")
	assert.Error(t, cfg.Set("server.url.host", "x"))
	assert.Error(t, cfg.Set("ui.max_fps", "fast"))
	assert.Error(t, cfg.Set("chat.auto_title", "maybe"))
	assert.Error(t, cfg.Set("", "x"))
}

func TestGetAllKeysResolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestStoragePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	cfg := Default()
	p, err := cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "rigchat.db"), p)

	cfg.Storage.Backend = BackendSQLite
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "rigchat.sqlite"), p)

	cfg.Storage.Backend = BackendMemory
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, "", p)

	cfg.Storage.Backend = BackendBolt
	cfg.Storage.Path = "/var/lib/rigchat/chats.db"
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rigchat/chats.db", p)

	lp, err := cfg.LogPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "rigchat.log"), lp)
}

func TestWatch(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTo(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	}))

	cfg := Default()
	cfg.Server.URL = "http://moved:11434"
	require.NoError(t, SaveTo(cfg, path))

	select {
	case got := <-changes:
		assert.Equal(t, "http://moved:11434", got.Server.URL)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}
}
