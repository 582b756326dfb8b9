package telegram

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "empty", raw: "", wantErr: true},
		{name: "bad json", raw: "{", wantErr: true},
		{name: "missing app id", raw: `{"app_hash":"h","bot_token":"t"}`, wantErr: true},
		{name: "missing app hash", raw: `{"app_id":1,"bot_token":"t"}`, wantErr: true},
		{name: "missing login", raw: `{"app_id":1,"app_hash":"h"}`, wantErr: true},
		{name: "bad publish timeout", raw: `{"app_id":1,"app_hash":"h","phone":"+1","publish_timeout":"bad"}`, wantErr: true},
		{name: "negative auth timeout", raw: `{"app_id":1,"app_hash":"h","phone":"+1","auth_timeout":"-1s"}`, wantErr: true},
		{name: "bot", raw: `{"app_id":1,"app_hash":" h ","bot_token":"t","publish_timeout":"5s"}`},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := ParseConfig([]byte(testCase.raw))
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse config failed: %v", err)
			}
			if cfg.AppHash != "h" || cfg.BotToken != "t" {
				t.Fatalf("cfg = %+v", cfg)
			}
			if cfg.publishTimeout != 5*time.Second || cfg.authTimeout != defaultAuthTimeout {
				t.Fatalf("timeouts = %s, %s", cfg.publishTimeout, cfg.authTimeout)
			}
			if cfg.SessionFile != defaultSessionFile {
				t.Fatalf("session file = %q, want %q", cfg.SessionFile, defaultSessionFile)
			}
		})
	}
}

func TestOpenSessionFile(t *testing.T) {
	t.Parallel()

	storage, err := openSessionFile(filepath.Join(t.TempDir(), "nested", "session.json"))
	if err != nil {
		t.Fatalf("open session file failed: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if info, err := os.Stat(filepath.Dir(storage.Path)); err != nil || !info.IsDir() {
		t.Fatalf("session directory not created: %v", err)
	}
	if _, err := openSessionFile("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestLoginCode(t *testing.T) {
	t.Parallel()

	code, err := loginCode("12345", nil, nil)
	if err != nil || code != "12345" {
		t.Fatalf("login code = %q, %v, want 12345", code, err)
	}

	pipe := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(pipe, []byte("999\n"), 0o600); err != nil {
		t.Fatalf("write stdin stand-in: %v", err)
	}
	file, err := os.Open(pipe)
	if err != nil {
		t.Fatalf("open stdin stand-in: %v", err)
	}
	defer file.Close()
	if _, err := loginCode("", file, nil); err == nil {
		t.Fatal("expected non-terminal stdin error")
	}
}

func TestBuildRuntimeRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := BuildRuntime("tg", nil, []byte(`{"app_id":1}`)); err == nil {
		t.Fatal("expected config error")
	}
}
