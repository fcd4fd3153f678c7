package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "taskconsole.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Server.Listen != ":8000" || c.Server.StreamInterval != 2*time.Second {
		t.Fatalf("unexpected server defaults: %+v", c.Server)
	}
	if c.Registry.ReapInterval != 5*time.Second || c.Registry.RunningTimeout != 24*time.Hour ||
		c.Registry.IdleTimeout != 5*time.Minute || c.Registry.OutputCapacity != 50 {
		t.Fatalf("unexpected registry defaults: %+v", c.Registry)
	}
	if !c.Metrics.Enabled || c.Metrics.Path != "/metrics" {
		t.Fatalf("unexpected metrics defaults: %+v", c.Metrics)
	}
	if len(c.Server.CORSOrigins) != 1 || c.Server.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected cors defaults: %v", c.Server.CORSOrigins)
	}
	if c.Pipeline.MaxFailures != 3 || !c.Pipeline.AskAccount {
		t.Fatalf("unexpected pipeline defaults: %+v", c.Pipeline)
	}
}

func TestLoad_Full(t *testing.T) {
	file := writeTOML(t, `
[server]
listen = "127.0.0.1:9000"
base_path = "/console"
stream_interval = "500ms"
cors_origins = ["https://example.com"]

[registry]
reap_interval = "1s"
running_timeout = "2h"
idle_timeout = "90s"
output_capacity = 20
prompt_recheck = "250ms"

[log]
level = "debug"
format = "JSON"
dir = "/var/log/taskconsole"

[metrics]
enabled = false

[history]
sinks = ["sqlite://:memory:", "opensearch://localhost:9200/worker-history"]

[pipeline]
ask_account = false
item_wait = "0s"
max_failures = 2

  [[pipeline.items]]
  name = "Chapter 1"
  kind = "Video"
  duration = "3s"

  [[pipeline.items]]
  name = "Quiz"
  kind = "work"
  fail = true
`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != "127.0.0.1:9000" || c.Server.BasePath != "/console" || c.Server.StreamInterval != 500*time.Millisecond {
		t.Fatalf("server: %+v", c.Server)
	}
	if c.Registry.RunningTimeout != 2*time.Hour || c.Registry.IdleTimeout != 90*time.Second || c.Registry.OutputCapacity != 20 {
		t.Fatalf("registry: %+v", c.Registry)
	}
	pol := c.Registry.Policy()
	if pol.RunningTimeout != 2*time.Hour || pol.IdleTimeout != 90*time.Second {
		t.Fatalf("policy: %+v", pol)
	}
	if c.Log.Format != "json" || c.Log.Logger().File.Dir != "/var/log/taskconsole" {
		t.Fatalf("log: %+v", c.Log)
	}
	if c.Metrics.Enabled {
		t.Fatalf("metrics should be disabled")
	}
	if len(c.History.Sinks) != 2 {
		t.Fatalf("history: %+v", c.History)
	}
	if len(c.Pipeline.Items) != 2 {
		t.Fatalf("items: %+v", c.Pipeline.Items)
	}
	first := c.Pipeline.Items[0]
	if first.Name != "Chapter 1" || first.Kind != "video" || first.Duration != 3*time.Second {
		t.Fatalf("first item: %+v", first)
	}
	if !c.Pipeline.Items[1].Fail || c.Pipeline.AskAccount {
		t.Fatalf("pipeline: %+v", c.Pipeline)
	}
	opts := c.Pipeline.Options(nil)
	if len(opts.Items) != 2 || opts.Items[0].Kind != "video" || opts.MaxFailures != 2 || opts.ItemWait != 0 {
		t.Fatalf("pipeline options: %+v", opts)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TASKCONSOLE_SERVER_LISTEN", ":7070")
	t.Setenv("TASKCONSOLE_REGISTRY_IDLE_TIMEOUT", "10m")
	file := writeTOML(t, "[server]\nlisten = \":9000\"\n")
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != ":7070" {
		t.Fatalf("listen = %q, want env override", c.Server.Listen)
	}
	if c.Registry.IdleTimeout != 10*time.Minute {
		t.Fatalf("idle timeout = %v", c.Registry.IdleTimeout)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad toml", "[server\nlisten=", "read config"},
		{"zero reap interval", "[registry]\nreap_interval = \"0s\"\n", "registry.reap_interval must be positive"},
		{"negative capacity", "[registry]\noutput_capacity = -1\n", "registry.output_capacity"},
		{"bad format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"unnamed item", "[[pipeline.items]]\nkind = \"video\"\n", "name is required"},
		{"zero failures", "[pipeline]\nmax_failures = 0\n", "pipeline.max_failures"},
		{"tls without certs", "[server.tls]\nenabled = true\n", "cert_file/key_file or dir"},
		{"tls cert without key", "[server.tls]\nenabled = true\ncert_file = \"a.crt\"\n", "go together"},
		{"tls bad version", "[server.tls]\nenabled = true\ndir = \"certs\"\nmin_version = \"1.0\"\n", "min_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTOML(t, tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// FuzzLoad feeds arbitrary listen/interval values and checks the loader
// returns either a valid config or an error, never panics.
func FuzzLoad(f *testing.F) {
	f.Add(":8000", "2s", 50)
	f.Add("", "-1s", 0)
	f.Add("host:1", "garbage", -5)
	f.Fuzz(func(t *testing.T, listen, interval string, capacity int) {
		clean := func(s string) string {
			return strings.Map(func(r rune) rune {
				if r == '"' || r == '\\' || r == '\n' || r == '\r' {
					return -1
				}
				return r
			}, s)
		}
		var b strings.Builder
		b.WriteString("[server]\nlisten = \"" + clean(listen) + "\"\nstream_interval = \"" + clean(interval) + "\"\n")
		b.WriteString("[registry]\noutput_capacity = ")
		b.WriteString(strconv.Itoa(capacity))
		b.WriteString("\n")
		dir := t.TempDir()
		file := filepath.Join(dir, "fuzz.toml")
		if err := os.WriteFile(file, []byte(b.String()), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		c, err := Load(file)
		if err != nil {
			return
		}
		if c.Server.StreamInterval <= 0 || c.Registry.OutputCapacity <= 0 {
			t.Fatalf("invalid config accepted: %+v", c)
		}
	})
}

func TestLoad_SampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.toml"))
	if err != nil {
		t.Fatalf("sample config: %v", err)
	}
	if len(c.Pipeline.Items) != 4 || !c.Pipeline.Items[3].Fail {
		t.Fatalf("items: %+v", c.Pipeline.Items)
	}
	if c.Server.TLS.Enabled || c.Server.TLS.Dir != "./certs" {
		t.Fatalf("tls: %+v", c.Server.TLS)
	}
	if len(c.History.Sinks) != 1 {
		t.Fatalf("sinks: %v", c.History.Sinks)
	}
}
