package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the tenants a running vimworkerd process currently manages",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := adminAddr + "/tenants"

		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("reaching admin HTTP surface at %s: %w", adminAddr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status request rejected: %s", resp.Status)
		}

		var body struct {
			Tenants []string `json:"tenants"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decoding status response: %w", err)
		}

		if len(body.Tenants) == 0 {
			fmt.Println("no tenants running")
			return nil
		}
		for _, id := range body.Tenants {
			fmt.Println(id)
		}
		return nil
	},
}
