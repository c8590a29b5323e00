package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.StandardLogger()

	rootCmd := &cobra.Command{Use: "calimerod", Short: "Calimero node daemon"}
	rootCmd.PersistentFlags().String("config", "", "configuration overlay name (merges cmd/config/<name>.yaml over default.yaml)")

	rootCmd.AddCommand(nodeCmd(log))
	rootCmd.AddCommand(contextCmd(log))
	rootCmd.AddCommand(peersCmd(log))

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("calimerod: command failed")
		os.Exit(1)
	}
}
