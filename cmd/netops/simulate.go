package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netops/simulate"
)

func (a *app) simulateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Start simulated SSH devices for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := simulate.LoadConfig(file)
			if err != nil {
				return err
			}
			mgr, err := simulate.Start(sc)
			if err != nil {
				return err
			}
			defer mgr.Stop()

			names := make([]string, 0, len(sc.Devices))
			for name := range sc.Devices {
				names = append(names, name)
			}
			sort.Strings(names)
			out := cmd.OutOrStdout()
			for _, name := range names {
				if addr := mgr.Addr(name); addr != "" {
					fmt.Fprintf(out, "%s %s\n", name, addr)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "configs/simulate.yaml", "simulator config")
	return cmd
}
