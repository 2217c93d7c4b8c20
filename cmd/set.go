package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mtkaczyk/npemctl/internal/logging"
	"github.com/mtkaczyk/npemctl/internal/pci"
	"github.com/mtkaczyk/npemctl/internal/registry"
)

// CreateSetCmd creates the set command.
func CreateSetCmd() *cobra.Command {
	var sysfsRoot string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "set <device> <indication> <on|off>",
		Short: "Assert or deassert an enclosure indication",
		Long: `Sets one enclosure indication on a device, for example asserting ` +
			`locate on a drive slot. The command blocks until the device ` +
			`acknowledges the change, up to the completion deadline.`,
		Args: cobra.ExactArgs(3),
		Run: func(_ *cobra.Command, args []string) {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("cli")
			address, indication := args[0], args[1]

			var on bool
			switch args[2] {
			case "on":
				on = true
			case "off":
				on = false
			default:
				logger.Error("State must be 'on' or 'off'", "got", args[2])
				os.Exit(1)
			}

			manager := registry.NewManager(sysfsRoot, nil, nil, nil)
			defer manager.Close()

			ctx := context.Background()
			if err := manager.Rescan(ctx); err != nil {
				logger.Error("Device scan failed", "error", err)
				os.Exit(1)
			}

			toggle, ok := manager.IndicationToggle(address, indication)
			if !ok {
				logger.Error("Indication not supported",
					"device", address, "indication", indication)
				os.Exit(1)
			}

			if err := toggle.Set(ctx, on); err != nil {
				logger.Error("Failed to set indication",
					"device", address, "indication", indication, "error", err)
				os.Exit(1)
			}

			// The backend may decline part of a request; report what stuck.
			active, err := toggle.Get(ctx)
			if err != nil {
				logger.Error("Failed to read back indication", "error", err)
				os.Exit(1)
			}
			state := "off"
			if active {
				state = "on"
			}
			fmt.Printf("%s %s %s\n", address, indication, state)
		},
	}

	cmd.Flags().StringVar(&sysfsRoot, "sysfs-root", pci.DefaultRoot, "PCI sysfs device directory")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	return cmd
}
