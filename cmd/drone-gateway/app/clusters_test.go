package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tanay1904/Drone/internal/gateway/cluster"
)

func TestClustersCommand(t *testing.T) {
	tests := []struct {
		name      string
		resp      serversResponse
		wantLines []string
	}{
		{
			name: "active member marked",
			resp: serversResponse{
				Active: "primary",
				Servers: []cluster.Member{
					{Name: "primary", URL: "https://p", Region: "us-west", Priority: 1, Available: true, Active: true, LatencyMS: 12},
					{Name: "edge", URL: "https://e", Region: "edge", Priority: 3},
				},
			},
			wantLines: []string{"ACTIVE", "*", ""},
		},
		{
			name: "local mode",
			resp: serversResponse{
				Local:   true,
				Servers: []cluster.Member{{Name: "primary", URL: "https://p", Priority: 1}},
			},
			wantLines: []string{"ACTIVE", "", "No member reachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/servers" {
					http.NotFound(w, r)
					return
				}
				_ = json.NewEncoder(w).Encode(tt.resp)
			}))
			defer srv.Close()

			var out bytes.Buffer
			cmd := newClustersCommand()
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"--server", srv.URL + "/"})
			if err := cmd.Execute(); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
			if len(lines) != len(tt.wantLines) {
				t.Fatalf("got %d lines:\n%s", len(lines), out.String())
			}
			for i, prefix := range tt.wantLines {
				if !strings.HasPrefix(strings.TrimLeft(lines[i], " "), prefix) {
					t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
				}
			}
			if !strings.Contains(lines[1], "primary") || !strings.Contains(out.String(), "LATENCY") {
				t.Errorf("table missing columns:\n%s", out.String())
			}
		})
	}
}

func TestClustersCommandReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cmd := newClustersCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server", srv.URL})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Execute() error = %v, want the server's message", err)
	}
}
