package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

var (
	listProject string
	listPhase   string
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Inspect releases",
}

var releaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(ctx, c.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()

		releases, err := store.Queries().ListReleases(ctx, storage.ReleaseFilter{
			Project: listProject,
			Phase:   storage.Phase(listPhase),
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPHASE\tCREATED\tRELEASED")
		for _, r := range releases {
			released := "-"
			if r.ReleasedAt != nil {
				released = r.ReleasedAt.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				r.Name, r.Phase, r.CreatedAt.Format("2006-01-02"), released)
		}
		return w.Flush()
	},
}

var releaseShowCmd = &cobra.Command{
	Use:   "show <release>",
	Short: "Show one release with its revisions and queued tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(ctx, c.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()

		q := store.Queries()
		rel, err := q.GetRelease(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n  phase: %s\n  created: %s\n", rel.Name, rel.Phase,
			rel.CreatedAt.Format("2006-01-02 15:04:05"))
		if rel.VoteEndsAt != nil {
			fmt.Printf("  vote ends: %s\n", rel.VoteEndsAt.Format("2006-01-02 15:04:05"))
		}
		if rel.VoteResolution != "" {
			fmt.Printf("  vote resolution: %s\n", rel.VoteResolution)
		}
		if rel.ReleasedAt != nil {
			fmt.Printf("  released: %s\n", rel.ReleasedAt.Format("2006-01-02 15:04:05"))
		}

		revisions, err := q.ListRevisions(ctx, rel.Name)
		if err != nil {
			return err
		}
		if len(revisions) > 0 {
			fmt.Println("  revisions:")
			for _, rev := range revisions {
				fmt.Printf("    %s  %s  %s\n", rev.Number,
					rev.CreatedAt.Format("2006-01-02 15:04:05"), rev.Description)
			}
		}

		pending, err := q.ListTasks(ctx, storage.TaskFilter{
			Project: rel.Project, Version: rel.Version, State: storage.TaskQueued,
		})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			fmt.Printf("  queued tasks: %d\n", len(pending))
		}
		return nil
	},
}

func init() {
	releaseListCmd.Flags().StringVar(&listProject, "project", "", "filter by project")
	releaseListCmd.Flags().StringVar(&listPhase, "phase", "", "filter by phase")
	releaseCmd.AddCommand(releaseListCmd, releaseShowCmd)
	rootCmd.AddCommand(releaseCmd)
}
