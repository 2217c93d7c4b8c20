package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mtkaczyk/npemctl/internal/logging"
	"github.com/mtkaczyk/npemctl/internal/pci"
	"github.com/mtkaczyk/npemctl/internal/registry"
)

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	var sysfsRoot string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List NPEM-capable PCI devices",
		Long: `Scans the PCI bus for devices with enclosure indication support, ` +
			`either through the NPEM extended capability or a firmware method, ` +
			`and prints each device with its control channel and supported indications.`,
		Run: func(_ *cobra.Command, _ []string) {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("cli")

			manager := registry.NewManager(sysfsRoot, nil, nil, nil)
			defer manager.Close()

			if err := manager.Rescan(context.Background()); err != nil {
				logger.Error("Device scan failed", "error", err)
				os.Exit(1)
			}

			devices := manager.Devices()
			if len(devices) == 0 {
				fmt.Println("No NPEM-capable devices found")
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tLABEL\tBACKEND\tINDICATIONS")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					d.Address, d.Label, d.Backend, strings.Join(d.Supported, ","))
			}
			w.Flush()
		},
	}

	cmd.Flags().StringVar(&sysfsRoot, "sysfs-root", pci.DefaultRoot, "PCI sysfs device directory")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	return cmd
}

// initCommandLogging sets up minimal logging for one-shot CLI commands.
// Warnings and errors only, so command output stays clean.
func initCommandLogging(logJSON bool) {
	cfg := logging.Config{
		Level:  "warn",
		Format: "text",
	}
	if logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
