package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  "Applies all pending SQL migrations in lexicographic order. Every other command also migrates on start.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initStore(cmd.Context(), "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
