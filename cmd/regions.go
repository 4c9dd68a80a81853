package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/provider-directory-crawler/internal/regions"
)

func newRegionsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Manage the region catalog",
	}
	cmd.AddCommand(newRegionsLoadCmd(e), newRegionsListCmd(e))
	return cmd
}

func newRegionsLoadCmd(e *env) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Upsert every region descriptor (*.json, *.yaml) found in a directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = e.cfg.Regions.Dir
			}
			a, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := regions.NewLoader(a.Regions(), e.logger).LoadDir(cmd.Context(), dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "files: %d, added: %d, updated: %d, skipped: %d\n",
				res.Files, res.Loaded, res.Updated, res.Skipped)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "descriptor directory (default regions.dir)")
	return cmd
}

func newRegionsListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print stored regions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			all, err := a.Regions().ListRegions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXTERNAL ID\tNAME\tKIND\tPOSTAL CODES\tLAST SCRAPED")
			for _, r := range all {
				scraped := "never"
				if r.LastScrapedAt != nil {
					scraped = r.LastScrapedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.ExternalID, r.Name, r.Kind, len(r.PostalCodes), scraped)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("print regions: %w", err)
			}
			return nil
		},
	}
}
