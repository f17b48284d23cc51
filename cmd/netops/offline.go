package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netops/internal/credential"
	"github.com/sshcollectorpro/netops/internal/inventory"
	"github.com/sshcollectorpro/netops/internal/job"
	"github.com/sshcollectorpro/netops/internal/output"
)

func (a *app) compareMACCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "compare-mac",
		Short: "Compare DAYTIME snapshots against the site's BASE snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.Output.Dir
			}
			baseFiles := inventory.Glob(dir, inventory.BaselinePattern(a.cfg.Site))
			if len(baseFiles) == 0 {
				return fmt.Errorf("no baseline files for site %s in %s", a.cfg.Site, dir)
			}
			dayFiles := inventory.Glob(dir, inventory.DaytimePattern(a.cfg.Site))
			if len(dayFiles) == 0 {
				return fmt.Errorf("no daytime files for site %s in %s", a.cfg.Site, dir)
			}

			base := inventory.LoadBaseline(baseFiles)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Baseline: %d MACs from %d files\n", len(base), len(baseFiles))
			for _, f := range dayFiles {
				res, err := inventory.CompareFile(f, base)
				if err != nil {
					fmt.Fprintf(out, "  %s: %v\n", filepath.Base(f), err)
					continue
				}
				fmt.Fprintf(out, "  %s: %d rows, %d not in baseline", filepath.Base(res.Path), res.Total, res.Diff)
				if res.OutPath != "" {
					fmt.Fprintf(out, " -> %s", res.OutPath)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding snapshot CSVs (default: output.dir)")
	return cmd
}

func (a *app) mergeMACCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "merge-mac",
		Short: "Merge *_diff_vs_baseline.csv files into one de-duplicated CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.Output.Dir
			}
			files := inventory.Glob(dir, inventory.DiffPattern)
			if len(files) == 0 {
				return fmt.Errorf("no diff files in %s", dir)
			}
			path, n, err := inventory.WriteMerged(dir, files, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d files, %d unique MACs -> %s\n", len(files), n, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding diff CSVs (default: output.dir)")
	return cmd
}

func (a *app) compareRoutesCmd() *cobra.Command {
	var routesFile, subnetsFile string
	cmd := &cobra.Command{
		Use:   "compare-routes",
		Short: "Compare a routes.csv file with site subnets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if routesFile == "" {
				routesFile = filepath.Join(a.cfg.Output.Dir, "routes.csv")
			}
			if subnetsFile == "" {
				subnetsFile = a.cfg.Jobs.Routes.SiteSubnets
			}
			if subnetsFile == "" {
				return errors.New("--site-subnets is required")
			}
			routes, err := inventory.LoadRoutesCSV(routesFile)
			if err != nil {
				return err
			}
			subnets, err := inventory.LoadSiteSubnets(subnetsFile)
			if err != nil {
				return err
			}
			w := output.NewWriter(a.cfg.Output.Dir, "compare-routes", output.NewStorageWriter(a.cfg.Storage))
			art, err := job.WriteRouteComparison(cmd.Context(), w, routes, subnets)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Compared %d routes -> %s\n", len(routes), art.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&routesFile, "routes", "", "routes CSV with a Route column (default: <output.dir>/routes.csv)")
	cmd.Flags().StringVar(&subnetsFile, "site-subnets", "", "tab-separated site subnets file (default: jobs.routes.site_subnets)")
	return cmd
}

func (a *app) encryptCmd() *cobra.Command {
	var in, keyFile, outFile string
	cmd := &cobra.Command{
		Use:   "encrypt-credentials",
		Short: "Encrypt a plaintext credentials file with a newly generated Fernet key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keyFile == "" {
				keyFile = a.cfg.Credentials.KeyFile
			}
			if outFile == "" {
				outFile = a.cfg.Credentials.File
			}
			if err := credential.EncryptFile(in, keyFile, outFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key written to %s, credentials written to %s\n", keyFile, outFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "credentials.txt", "plaintext credentials file")
	cmd.Flags().StringVar(&keyFile, "key", "", "key file to create (default: credentials.key_file)")
	cmd.Flags().StringVar(&outFile, "out", "", "encrypted output file (default: credentials.file)")
	return cmd
}
