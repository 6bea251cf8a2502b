package app

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	cliflag "k8s.io/component-base/cli/flag"
)

type serverOptions struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type testOptions struct {
	Server *serverOptions `mapstructure:"server"`
	Level  string         `mapstructure:"level"`

	completed bool
}

func newTestOptions() *testOptions {
	return &testOptions{
		Server: &serverOptions{Addr: "0.0.0.0:3001", Timeout: 5 * time.Second},
		Level:  "info",
	}
}

func (o *testOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("server")
	fs.StringVar(&o.Server.Addr, "server.addr", o.Server.Addr, "Listen address.")
	fs.DurationVar(&o.Server.Timeout, "server.timeout", o.Server.Timeout, "Request timeout.")
	fss.FlagSet("misc").StringVar(&o.Level, "level", o.Level, "Log level.")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.Server.Timeout <= 0 {
		return errors.New("--server.timeout must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOptionSources(t *testing.T) {
	config := writeConfig(t, "server:\n  addr: 127.0.0.1:9000\n  timeout: 30s\nlevel: warn\n")

	tests := []struct {
		name string
		args []string
		env  map[string]string
		want serverOptions
		lvl  string
	}{
		{
			name: "defaults",
			want: serverOptions{Addr: "0.0.0.0:3001", Timeout: 5 * time.Second},
			lvl:  "info",
		},
		{
			name: "config file",
			args: []string{"--config", config},
			want: serverOptions{Addr: "127.0.0.1:9000", Timeout: 30 * time.Second},
			lvl:  "warn",
		},
		{
			name: "environment overrides file",
			args: []string{"--config", config},
			env:  map[string]string{"TEST_GATEWAY_SERVER_ADDR": "10.0.0.1:80"},
			want: serverOptions{Addr: "10.0.0.1:80", Timeout: 30 * time.Second},
			lvl:  "warn",
		},
		{
			name: "flag overrides everything",
			args: []string{"--config", config, "--server.addr", "[::1]:8080", "--level", "debug"},
			env:  map[string]string{"TEST_GATEWAY_SERVER_ADDR": "10.0.0.1:80"},
			want: serverOptions{Addr: "[::1]:8080", Timeout: 30 * time.Second},
			lvl:  "debug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			opts := newTestOptions()
			ran := false
			a := NewApp("test-gateway", "test",
				WithOptions(opts),
				WithSilence(),
				WithDefaultValidArgs(),
				WithRunFunc(func() error {
					ran = true
					return nil
				}),
			)
			a.Command().SetArgs(tt.args)

			if err := a.Command().Execute(); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !ran || !opts.completed {
				t.Errorf("ran = %v, completed = %v", ran, opts.completed)
			}
			if diff := cmp.Diff(tt.want, *opts.Server); diff != "" {
				t.Errorf("server options mismatch (-want +got):\n%s", diff)
			}
			if opts.Level != tt.lvl {
				t.Errorf("level = %q, want %q", opts.Level, tt.lvl)
			}
		})
	}
}

func TestInvalidOptionsAreRejected(t *testing.T) {
	ran := false
	a := NewApp("test-gateway", "test",
		WithOptions(newTestOptions()),
		WithSilence(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)
	a.Command().SetArgs([]string{"--server.timeout", "0s"})

	if err := a.Command().Execute(); err == nil || !strings.Contains(err.Error(), "server.timeout") {
		t.Errorf("Execute() error = %v, want a validation error", err)
	}
	if ran {
		t.Error("run function called with invalid options")
	}
}

func TestPositionalArgsAreRejected(t *testing.T) {
	a := NewApp("test-gateway", "test",
		WithOptions(newTestOptions()),
		WithSilence(),
		WithDefaultValidArgs(),
		WithRunFunc(func() error { return nil }),
	)
	a.Command().SetArgs([]string{"extra"})

	if err := a.Command().Execute(); err == nil {
		t.Error("Execute() accepted a positional argument")
	}
}

func TestMissingConfigFile(t *testing.T) {
	a := NewApp("test-gateway", "test",
		WithOptions(newTestOptions()),
		WithSilence(),
		WithRunFunc(func() error { return nil }),
	)
	a.Command().SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})

	if err := a.Command().Execute(); err == nil {
		t.Error("Execute() succeeded with a missing config file")
	}
}

func TestNoConfigDropsFlag(t *testing.T) {
	a := NewApp("test-gateway", "test",
		WithOptions(newTestOptions()),
		WithSilence(),
		WithNoConfig(),
		WithRunFunc(func() error { return nil }),
	)
	if a.Command().Flags().Lookup(configFlagName) != nil {
		t.Error("--config registered with WithNoConfig")
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	err := PrintTable(&buf, []any{"NAME", "LATENCY"}, [][]any{{"primary", "12ms"}, {"edge", "-"}})
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i, want := range []string{"NAME", "primary", "edge"} {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
	if strings.Index(lines[0], "LATENCY") != strings.Index(lines[1], "12ms") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}
