package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumen-network/lumen/internal/daemon"
)

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Node address (defaults to the configured listen address)")
	rootCmd.AddCommand(statusCmd)
}

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live stats from a running node",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := daemon.LoadConfig()
		if err != nil {
			return err
		}
		host := cfg.Listen.Host
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Listen.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/stats")
	if err != nil {
		return fmt.Errorf("node not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var stats struct {
		TotalPeers    int              `json:"total_peers"`
		Helpers       int              `json:"helpers"`
		Clients       int              `json:"clients"`
		UptimeSeconds int64            `json:"uptime_seconds"`
		Events        map[string]int64 `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}

	uptime := time.Duration(stats.UptimeSeconds) * time.Second
	fmt.Printf("Node %s up %s\n\n", addr, uptime)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEERS\tHELPERS\tCLIENTS")
	fmt.Fprintf(w, "%d\t%d\t%d\n", stats.TotalPeers, stats.Helpers, stats.Clients)
	w.Flush()

	if len(stats.Events) > 0 {
		kinds := make([]string, 0, len(stats.Events))
		for k := range stats.Events {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tCOUNT")
		for _, k := range kinds {
			fmt.Fprintf(w, "%s\t%d\n", k, stats.Events[k])
		}
		w.Flush()
	}

	return nil
}
