package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/calimero-network/core/core"
)

func peersCmd(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{Use: "peers", Short: "Inspect peer discovery state"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every peer the local node has discovered",
		RunE: func(cmd *cobra.Command, args []string) error {
			overlay, _ := cmd.Flags().GetString("config")
			boot, err := startBootstrap(overlay, log)
			if err != nil {
				return err
			}
			defer boot.Stop()
			return printPeers(cmd, boot)
		},
	})
	return cmd
}

func printPeers(cmd *cobra.Command, boot *core.ContextBootstrap) error {
	records := boot.Runtime.Discovery().All()
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no peers known")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tstate=%d\treachability=%d\tlast_seen=%s\n",
			r.Id, r.ConnState, r.Reachability, r.LastSeen.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
