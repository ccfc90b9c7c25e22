package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/device"
)

// deviceRow is the table form of a registered device.
type deviceRow struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Address       string     `json:"address"`
	Platform      string     `json:"platform"`
	Status        string     `json:"status"`
	Phase         string     `json:"phase"`
	LastConnected *time.Time `json:"last_connected"`
}

func (a *app) devicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"device"},
		Short:   "Manage the local device registry",
	}
	cmd.AddCommand(
		a.devicesListCommand(),
		a.devicesShowCommand(),
		a.devicesAddCommand(),
		a.devicesRemoveCommand(),
		a.devicesStatsCommand(),
	)
	return cmd
}

func (a *app) devicesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			devices, err := registry.ListDevices(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			if a.outputFormat != FormatTable {
				a.print(cmd, devices)
				return nil
			}
			rows := make([]deviceRow, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, deviceRow{
					ID:            d.ID,
					Name:          d.Name,
					Address:       d.Address,
					Platform:      d.Platform,
					Status:        d.LastStatus,
					Phase:         d.LastPhase,
					LastConnected: d.LastConnectedAt,
				})
			}
			a.print(cmd, rows)
			return nil
		},
	}
}

func (a *app) devicesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show one registered device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			d, err := registry.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("device %q: %w", args[0], err)
			}
			a.print(cmd, d)
			return nil
		},
	}
}

func (a *app) devicesAddCommand() *cobra.Command {
	var name, username string

	cmd := &cobra.Command{
		Use:   "add <address>",
		Short: "Register a device",
		Long: `add registers a device by address. The name defaults to one derived from
the address and the username to portal.username. Passwords are never stored;
they come from portal.password or --password at connect time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if username == "" {
				username = a.cfg.Portal.Username
			}
			d := &device.Device{Name: name, Address: args[0], Username: username}
			if err := registry.CreateDevice(cmd.Context(), d); err != nil {
				return fmt.Errorf("failed to register device: %w", err)
			}
			a.recorder.Device(cmd.Context(), audit.ActionRegister, d.ID, operatorName(),
				map[string]any{"name": d.Name, "address": d.Address})
			a.print(cmd, d)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "device name (a-z, 0-9, '-')")
	cmd.Flags().StringVar(&username, "username", "", "device username")
	return cmd
}

func (a *app) devicesRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id|name>",
		Short: "Remove a registered device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			d, err := registry.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("device %q: %w", args[0], err)
			}
			if !a.confirm(cmd, fmt.Sprintf("Remove device %q?", d.Name)) {
				return nil
			}
			if err := registry.DeleteDevice(cmd.Context(), d.ID); err != nil {
				return fmt.Errorf("failed to remove device: %w", err)
			}
			a.recorder.Device(cmd.Context(), audit.ActionRemove, d.ID, operatorName(), map[string]any{"name": d.Name})
			fmt.Fprintf(cmd.OutOrStdout(), "Device %q removed.\n", d.Name)
			return nil
		},
	}
}

func (a *app) devicesStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise registered devices by platform and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			stats := registry.GetStats()
			if a.outputFormat != FormatTable {
				a.print(cmd, stats)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total devices: %d\n", stats.TotalDevices)
			if len(stats.ByPlatform) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "By platform:")
				a.print(cmd, stats.ByPlatform)
			}
			if len(stats.ByStatus) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "By status:")
				a.print(cmd, stats.ByStatus)
			}
			return nil
		},
	}
}

// auditRow is the table form of an audit entry.
type auditRow struct {
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	EntityID string    `json:"entity"`
	UserID   string    `json:"user"`
	Source   string    `json:"source"`
	Outcome  string    `json:"outcome"`
}

func (a *app) auditCommand() *cobra.Command {
	var action, ref string
	var since time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			filter := audit.Filter{Action: action, Limit: limit}
			if ref != "" {
				d, err := registry.Resolve(cmd.Context(), ref)
				if err != nil {
					return fmt.Errorf("device %q: %w", ref, err)
				}
				filter.EntityType = audit.EntityDevice
				filter.EntityID = d.ID
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			res, err := a.auditDB.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list audit entries: %w", err)
			}
			if a.outputFormat != FormatTable {
				a.print(cmd, res)
				return nil
			}
			rows := make([]auditRow, 0, len(res.Logs))
			for _, l := range res.Logs {
				outcome := ""
				if ok, found := l.Details["succeeded"].(bool); found {
					outcome = "failed"
					if ok {
						outcome = "ok"
					}
				}
				rows = append(rows, auditRow{
					Time:     l.CreatedAt,
					Action:   l.Action,
					EntityID: l.EntityID,
					UserID:   l.UserID,
					Source:   l.Source,
					Outcome:  outcome,
				})
			}
			a.print(cmd, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "only entries with this action")
	cmd.Flags().StringVar(&ref, "for", "", "only entries for this device id or name")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}
