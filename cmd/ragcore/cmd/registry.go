package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newRegistryCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the PDF ingestion registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			counts, err := svc.RegistryStatusCounts(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(out, "%-10s %d\n", s, counts[s])
			}

			entries, err := svc.ListRegistry(cmd.Context(), status)
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				fmt.Fprintln(out)
			}
			for _, entry := range entries {
				line := fmt.Sprintf("%-10s retries=%d %s", entry.Status, entry.RetryCount, entry.SourcePath)
				if entry.ErrorMessage != "" {
					line += " (" + entry.ErrorMessage + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter entries by status (pending, indexing, indexed, error)")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict stale session documents now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			defer svc.Close()

			removed, err := svc.RunCleanup(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale document(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Retention override (1-90; default from config)")
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <folder>",
		Short: "Watch a folder and index new or changed PDFs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.StartWatching(cmd.Context(), args[0], "", false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (ctrl-c to stop)\n", args[0])
			<-cmd.Context().Done()
			svc.StopWatching()
			return nil
		},
	}
	return cmd
}
