package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/portal"
	"github.com/nerrad567/devportal-core/internal/portal/control"
	"github.com/nerrad567/devportal-core/internal/portal/sysperf"
)

// connectionSummary is printed by connect.
type connectionSummary struct {
	Device            string `json:"device" yaml:"device"`
	Address           string `json:"address" yaml:"address"`
	Platform          string `json:"platform" yaml:"platform"`
	DeviceFamily      string `json:"device_family" yaml:"device_family"`
	ComputerName      string `json:"computer_name" yaml:"computer_name"`
	RequiresHTTPS     bool   `json:"requires_https" yaml:"requires_https"`
	CertificatePinned bool   `json:"certificate_pinned" yaml:"certificate_pinned"`
	HTTPStatus        int    `json:"http_status" yaml:"http_status"`
}

func summarize(s *portal.Session, t *target) connectionSummary {
	d := s.Descriptor()
	sum := connectionSummary{
		Device:            t.name(),
		Address:           d.Address(),
		Platform:          d.Platform().String(),
		DeviceFamily:      d.DeviceFamily(),
		RequiresHTTPS:     d.RequiresHTTPS(),
		CertificatePinned: d.Certificate() != nil,
		HTTPStatus:        s.ConnectionHTTPStatus(),
	}
	if info := d.OSInfo(); info != nil {
		sum.ComputerName = info.ComputerName
	}
	return sum
}

func (a *app) connectCommand() *cobra.Command {
	var ssid, key string
	var update bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run the connect sequence and report what was discovered",
		Long: `connect acquires the device certificate, discovers the operating system,
determines whether HTTPS is required and, optionally, joins a WiFi network and
switches to the device's reported IP address. Progress is written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := connectOptions{progress: true}
			opts.SSID = a.cfg.Portal.SSID
			opts.NetworkKey = a.cfg.Portal.NetworkKey
			opts.UpdateConnection = a.cfg.Portal.UpdateConnection
			if cmd.Flags().Changed("ssid") {
				opts.SSID = ssid
			}
			if cmd.Flags().Changed("key") {
				opts.NetworkKey = key
			}
			if cmd.Flags().Changed("update-connection") {
				opts.UpdateConnection = update
			}
			if opts.NetworkKey != "" && opts.SSID == "" {
				return fmt.Errorf("--key requires --ssid")
			}

			s, t, err := a.session(cmd, opts)
			if t != nil {
				a.auditDevice(cmd.Context(), t, audit.ActionConnect, err, nil)
			}
			if err != nil {
				return err
			}
			a.print(cmd, summarize(s, t))
			return nil
		},
	}
	cmd.Flags().StringVar(&ssid, "ssid", "", "WiFi network to join during connect")
	cmd.Flags().StringVar(&key, "key", "", "WiFi network key")
	cmd.Flags().BoolVar(&update, "update-connection", false, "switch to the device's reported IP address")
	return cmd
}

// osSummary is printed by info.
type osSummary struct {
	ComputerName string `json:"computer_name" yaml:"computer_name"`
	Platform     string `json:"platform" yaml:"platform"`
	PlatformName string `json:"platform_name" yaml:"platform_name"`
	DeviceFamily string `json:"device_family" yaml:"device_family"`
	OSEdition    string `json:"os_edition" yaml:"os_edition"`
	OSVersion    string `json:"os_version" yaml:"os_version"`
	Language     string `json:"language" yaml:"language"`
	MachineName  string `json:"machine_name" yaml:"machine_name"`
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the device's operating system information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			d := s.Descriptor()
			out := osSummary{
				Platform:     d.Platform().String(),
				DeviceFamily: d.DeviceFamily(),
			}
			if info := d.OSInfo(); info != nil {
				out.ComputerName = info.ComputerName
				out.PlatformName = info.Platform
				out.OSEdition = info.OsEdition
				out.OSVersion = info.OsVersion
				out.Language = info.Language
			}
			if name, err := control.New(s).MachineName(cmd.Context()); err == nil {
				out.MachineName = name
			} else {
				a.log.Debug("machine name unavailable", "error", err)
			}
			a.print(cmd, out)
			return nil
		},
	}
}

// adapterRow is one table row of ipconfig.
type adapterRow struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	MAC       string `json:"mac"`
	Addresses string `json:"addresses"`
	Gateways  string `json:"gateways"`
}

func joinAddresses(addrs []portal.IPAddress) string {
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Mask != "" {
			parts = append(parts, addr.Address+"/"+addr.Mask)
		} else {
			parts = append(parts, addr.Address)
		}
	}
	return strings.Join(parts, ",")
}

func (a *app) ipconfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ipconfig",
		Short: "List the device's network adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			cfg, err := s.IPConfig(cmd.Context())
			if err != nil {
				return err
			}
			if a.outputFormat != FormatTable {
				a.print(cmd, cfg)
				return nil
			}
			rows := make([]adapterRow, 0, len(cfg.Adapters))
			for _, ad := range cfg.Adapters {
				name := ad.Name
				if ad.Description != "" {
					name = ad.Description
				}
				rows = append(rows, adapterRow{
					Name:      name,
					Type:      ad.Type,
					MAC:       ad.HardwareAddress,
					Addresses: joinAddresses(ad.IPAddresses),
					Gateways:  joinAddresses(ad.Gateways),
				})
			}
			a.print(cmd, rows)
			return nil
		},
	}
}

func (a *app) sysperfCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sysperf",
		Short: "Show system performance, or stream it with --watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			client := sysperf.New(s)

			if !watch {
				sample, err := client.Get(cmd.Context())
				if err != nil {
					return err
				}
				a.printSample(cmd, sample)
				return nil
			}

			ch, err := client.Stream(cmd.Context(), func(p *sysperf.SystemPerformance) {
				a.printSample(cmd, p)
			})
			if err != nil {
				return err
			}
			select {
			case <-cmd.Context().Done():
				return ch.Close()
			case <-ch.Done():
				return ch.Err()
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream samples until interrupted")
	return cmd
}

func (a *app) printSample(cmd *cobra.Command, p *sysperf.SystemPerformance) {
	if a.outputFormat != FormatTable {
		a.print(cmd, p)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  cpu=%d%%  mem_used=%dMiB  io_read=%d  io_write=%d\n",
		time.Now().Format(time.TimeOnly),
		p.CPULoad,
		p.MemoryUsedBytes()>>20,
		p.IOReadSpeed,
		p.IOWriteSpeed,
	)
}

func (a *app) restartCommand() *cobra.Command {
	return a.powerCommand("restart", "Restart the device", audit.ActionRestart, func(c *control.Client, cmd *cobra.Command) error {
		return c.Restart(cmd.Context())
	})
}

func (a *app) shutdownCommand() *cobra.Command {
	return a.powerCommand("shutdown", "Shut the device down", audit.ActionShutdown, func(c *control.Client, cmd *cobra.Command) error {
		return c.Shutdown(cmd.Context())
	})
}

func (a *app) powerCommand(use, short, action string, run func(*control.Client, *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, t, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			if !a.confirm(cmd, fmt.Sprintf("%s %s?", strings.ToUpper(use[:1])+use[1:], t.name())) {
				return nil
			}
			err = run(control.New(s), cmd)
			a.auditDevice(cmd.Context(), t, action, err, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s requested for %s.\n", use, t.name())
			return nil
		},
	}
}

func (a *app) renameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <machine-name>",
		Short: "Set the device's machine name (applies after restart)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := control.ValidateMachineName(args[0]); err != nil {
				return err
			}
			s, t, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			err = control.New(s).SetMachineName(cmd.Context(), args[0])
			a.auditDevice(cmd.Context(), t, audit.ActionRename, err, map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Machine name of %s set to %q; restart the device to apply.\n", t.name(), args[0])
			return nil
		},
	}
}
