package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanay1904/Drone/internal/gateway/cluster"
	"github.com/tanay1904/Drone/pkg/app"
)

type serversResponse struct {
	Active  string           `json:"active"`
	Local   bool             `json:"local"`
	Servers []cluster.Member `json:"servers"`
}

// newClustersCommand prints the cluster table of a running gateway.
func newClustersCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Show the cluster members seen by a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := fetchServers(ctx, addr)
			if err != nil {
				return err
			}
			return printServers(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&addr, "server", "http://127.0.0.1:3001", "Base URL of the gateway HTTP API.")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout.")
	return cmd
}

func fetchServers(ctx context.Context, addr string) (*serversResponse, error) {
	url := strings.TrimRight(addr, "/") + "/api/servers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}

	out := &serversResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode cluster table: %w", err)
	}
	return out, nil
}

func printServers(w io.Writer, resp *serversResponse) error {
	rows := make([][]any, 0, len(resp.Servers))
	for _, m := range resp.Servers {
		active := ""
		if m.Active {
			active = "*"
		}
		latency := "-"
		if m.Available {
			latency = fmt.Sprintf("%dms", m.LatencyMS)
		}
		rows = append(rows, []any{active, m.Name, m.Region, m.Priority, m.Available, latency, m.URL})
	}

	if err := app.PrintTable(w, []any{"ACTIVE", "NAME", "REGION", "PRIORITY", "AVAILABLE", "LATENCY", "URL"}, rows); err != nil {
		return err
	}
	if resp.Local {
		_, err := fmt.Fprintln(w, "No member reachable: gateway is in local mode.")
		return err
	}
	return nil
}
