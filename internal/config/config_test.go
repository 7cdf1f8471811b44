package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Address != ":8080" || cfg.HTTP.Path != "/rpc" {
		t.Errorf("got http %+v", cfg.HTTP)
	}
	if cfg.HTTP.ReadTimeout != 10*time.Second || cfg.HTTP.WriteTimeout != 30*time.Second {
		t.Errorf("got timeouts %v, %v", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}
	if cfg.HTTP.MaxBody != 1<<20 || cfg.RPC.MaxBatch != 100 || cfg.RPC.BatchConcurrency != 8 {
		t.Errorf("got limits %+v %+v", cfg.HTTP, cfg.RPC)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" || cfg.Log.Output != "stderr" {
		t.Errorf("got log %+v", cfg.Log)
	}
	if cfg.Session.Period != 24*time.Hour || len(cfg.Session.Keys) != 0 {
		t.Errorf("got session %+v", cfg.Session)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "rpcserver.yaml", `
http:
  address: 127.0.0.1:9000
  path: /api/rpc
  read_timeout: 2s
  cors_origins:
    - https://app.example.com
  max_conns: 64
rpc:
  max_batch: 10
  strict_names: true
  easy_errors: -32000
  docs: true
lua:
  dir: ./scripts
kv:
  dsn: file:kv.db
auth:
  issuer: https://issuer.example.com
  client_id: rpc
session:
  key_id: k1
  keys:
    - k1=AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Address != "127.0.0.1:9000" || cfg.HTTP.Path != "/api/rpc" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Errorf("got http %+v", cfg.HTTP)
	}
	if !reflect.DeepEqual(cfg.HTTP.CORSOrigins, []string{"https://app.example.com"}) || cfg.HTTP.MaxConns != 64 {
		t.Errorf("got http %+v", cfg.HTTP)
	}
	if cfg.RPC.MaxBatch != 10 || !cfg.RPC.StrictNames || cfg.RPC.EasyErrors != -32000 || !cfg.RPC.Docs {
		t.Errorf("got rpc %+v", cfg.RPC)
	}
	if cfg.RPC.BatchConcurrency != 8 {
		t.Errorf("default lost: got batch_concurrency %d", cfg.RPC.BatchConcurrency)
	}
	if cfg.Lua.Dir != "./scripts" || cfg.KV.DSN != "file:kv.db" || cfg.Auth.ClientID != "rpc" {
		t.Errorf("got %+v", cfg)
	}
	keys, err := cfg.Session.DecodeKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys["k1"]) != 32 {
		t.Errorf("got key length %d", len(keys["k1"]))
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "rpcserver.yaml", "http:\n  address: :9000\n")
	t.Setenv("JSONRPC_HTTP_ADDRESS", ":7000")
	t.Setenv("JSONRPC_RPC_MAX_BATCH", "3")
	t.Setenv("JSONRPC_HTTP_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("JSONRPC_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Address != ":7000" || cfg.RPC.MaxBatch != 3 || cfg.Log.Level != "debug" {
		t.Errorf("got %+v %+v %+v", cfg.HTTP, cfg.RPC, cfg.Log)
	}
	if !reflect.DeepEqual(cfg.HTTP.CORSOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("got origins %v", cfg.HTTP.CORSOrigins)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "JSONRPC_LUA_DIR=/srv/lua\n")
	t.Cleanup(func() { os.Unsetenv("JSONRPC_LUA_DIR") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lua.Dir != "/srv/lua" {
		t.Errorf("got lua.dir %q", cfg.Lua.Dir)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad path", "http:\n  path: rpc\n", "http.path"},
		{"negative max conns", "http:\n  max_conns: -1\n", "max_conns"},
		{"issuer without client", "auth:\n  issuer: https://issuer.example.com\n", "client_id"},
		{"malformed key", "session:\n  key_id: k1\n  keys: [k1]\n", "id=base64url"},
		{"bad base64", "session:\n  key_id: k1\n  keys: ['k1=!!!']\n", "k1"},
		{"unknown key id", "session:\n  key_id: k2\n  keys: [k1=AAAA]\n", "k2"},
		{"bad yaml", "http: [\n", "reading"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			_, err := Load(writeFile(t, dir, "c.yaml", tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
