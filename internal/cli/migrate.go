package cli

import (
	"github.com/spf13/cobra"

	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and ensure the state directory layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := loadConfig()
		if err != nil {
			return err
		}

		cs, err := content.NewStore(c.StateDir)
		if err != nil {
			return err
		}
		if err := cs.EnsureLayout(ctx); err != nil {
			return err
		}

		store, err := storage.Open(ctx, c.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		logger.Info("migrations applied", "db", c.DatabasePath(), "state_dir", c.StateDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
