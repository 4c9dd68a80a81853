package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/export"
)

func newExportCmd(e *env) *cobra.Command {
	var (
		out    string
		region int64
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored providers to an XLSX workbook with a summary sheet",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if out == "" {
				return errors.New("--out is required")
			}
			a, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			var regionID int64
			if region > 0 {
				r, err := a.Regions().GetRegionByExternalID(cmd.Context(), region)
				if err != nil {
					return fmt.Errorf("region %d: %w", region, err)
				}
				regionID = r.ID
			}
			exp, err := export.New(a.Providers(), e.logger.Named("export"))
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer func() {
				if cerr := f.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("close %s: %w", out, cerr)
				}
			}()
			stats, err := exp.Write(cmd.Context(), regionID, f)
			if err != nil {
				return err
			}
			e.logger.Info("export written", zap.String("path", out), zap.Int("providers", stats.Providers))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d providers written to %s (accepting new patients: %d, not accepting: %d)\n",
				stats.Providers, out, stats.Accepting, stats.NotAccepting)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output .xlsx path")
	cmd.Flags().Int64Var(&region, "region", 0, "only export providers of this region external id")
	return cmd
}
