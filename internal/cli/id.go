package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumen-network/lumen/internal/daemon"
	"github.com/lumen-network/lumen/internal/security"
)

func init() {
	rootCmd.AddCommand(idCmd)
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Show this node's identity",
	RunE:  runID,
}

func runID(cmd *cobra.Command, args []string) error {
	kp, err := security.LoadOrCreateKeypair(daemon.LumenHome())
	if err != nil {
		return err
	}

	hex := kp.PublicKeyHex()
	nodeID := "lumen-local"
	if len(hex) > 16 {
		nodeID = "lumen-" + hex[:16]
	}

	fmt.Printf("Node ID:    %s\n", nodeID)
	fmt.Printf("Public key: %s\n", hex)
	return nil
}
