package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/api/internal/metrics"
)

func tenantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect tenant descriptors",
	}
	cmd.AddCommand(tenantListCommand(), tenantCheckCommand())
	return cmd
}

func tenantListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conference codes with a descriptor file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := commonRun()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			tenantSet, err := buildTenants(cfg, logger, metrics.New(nil))
			if err != nil {
				return err
			}
			defer tenantSet.Close()
			if tenantSet.files == nil {
				return fmt.Errorf("no tenant config directory configured")
			}
			codes, err := tenantSet.files.Codes()
			if err != nil {
				return err
			}
			for _, code := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			return nil
		},
	}
}

// tenantCheckCommand opens a tenant the same way the first request would,
// applying migrations and seeding participants.
func tenantCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <code>",
		Short: "Resolve a tenant and bootstrap its partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := commonRun()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			tenantSet, err := buildTenants(cfg, logger, metrics.New(nil))
			if err != nil {
				return err
			}
			defer tenantSet.Close()

			handle, err := tenantSet.manager.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			participants, err := handle.Store.ListParticipants(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): ok, %d participants\n",
				handle.Code, handle.Descriptor.Name, len(participants))
			return nil
		},
	}
}
