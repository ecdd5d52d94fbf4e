package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload <tenant-id>",
	Short: "Signal a running worker to reconstruct its driver and re-read its action table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID := args[0]
		url := fmt.Sprintf("%s/tenants/%s/reload", adminAddr, tenantID)

		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			return fmt.Errorf("reaching admin HTTP surface at %s: %w", adminAddr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("reload request for tenant %s rejected: %s", tenantID, resp.Status)
		}
		fmt.Printf("reload signaled for tenant %s\n", tenantID)
		return nil
	},
}
