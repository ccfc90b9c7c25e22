package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/portal/control"
)

// defaultFiddlerPort is Fiddler's default listening port.
const defaultFiddlerPort = 8888

func (a *app) xboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xbox",
		Short: "Xbox developer settings and Fiddler tracing",
		Long: `xbox commands only work against Xbox consoles. Other platforms are refused
after the connect sequence identifies them, before any Xbox request is sent.`,
	}
	cmd.AddCommand(a.xboxSettingsCommand(), a.xboxFiddlerCommand())
	return cmd
}

func (a *app) xboxSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "List the console's developer settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			settings, err := control.New(s).XboxSettings(cmd.Context())
			if err != nil {
				return err
			}
			a.print(cmd, settings)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <value>",
		Short: "Change one developer setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, t, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			updated, err := control.New(s).UpdateXboxSetting(cmd.Context(), control.XboxSetting{Name: args[0], Value: args[1]})
			a.auditDevice(cmd.Context(), t, audit.ActionXboxSetting, err, map[string]any{"name": args[0], "value": args[1]})
			if err != nil {
				return err
			}
			a.print(cmd, updated)
			return nil
		},
	})
	return cmd
}

func (a *app) xboxFiddlerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fiddler",
		Short: "Route console traffic through a Fiddler proxy",
	}

	var proxy, certFile string
	var port int
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Start tracing through the proxy at --proxy:--port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if proxy == "" {
				return errors.New("--proxy is required")
			}
			if port < 1 || port > 65535 {
				return fmt.Errorf("--port %d out of range", port)
			}
			s, t, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			err = control.New(s).EnableFiddlerTracing(cmd.Context(), proxy, port, certFile)
			a.auditDevice(cmd.Context(), t, audit.ActionFiddler, err, map[string]any{"enabled": true, "proxy": fmt.Sprintf("%s:%d", proxy, port)})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fiddler tracing enabled on %s via %s:%d.\n", t.name(), proxy, port)
			return nil
		},
	}
	enable.Flags().StringVar(&proxy, "proxy", "", "proxy host address")
	enable.Flags().IntVar(&port, "port", defaultFiddlerPort, "proxy port")
	enable.Flags().StringVar(&certFile, "cert-path", "", "path of the Fiddler root certificate on the console")

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Stop Fiddler tracing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, t, err := a.session(cmd, a.defaultConnectOptions())
			if err != nil {
				return err
			}
			err = control.New(s).DisableFiddlerTracing(cmd.Context())
			a.auditDevice(cmd.Context(), t, audit.ActionFiddler, err, map[string]any{"enabled": false})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fiddler tracing disabled on %s.\n", t.name())
			return nil
		},
	}

	cmd.AddCommand(enable, disable)
	return cmd
}
