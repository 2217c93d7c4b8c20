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

// CreateGetCmd creates the get command.
func CreateGetCmd() *cobra.Command {
	var sysfsRoot string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "get <device> [indication]",
		Short: "Read enclosure indication state",
		Long: `Reads the current state of a device's enclosure indications. ` +
			`With an indication name, prints just that indication's state; ` +
			`without one, prints every supported indication.`,
		Args: cobra.RangeArgs(1, 2),
		Run: func(_ *cobra.Command, args []string) {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("cli")
			address := args[0]

			manager := registry.NewManager(sysfsRoot, nil, nil, nil)
			defer manager.Close()

			ctx := context.Background()
			if err := manager.Rescan(ctx); err != nil {
				logger.Error("Device scan failed", "error", err)
				os.Exit(1)
			}

			device, ok := findDevice(manager, address)
			if !ok {
				logger.Error("Device has no indication support", "device", address)
				os.Exit(1)
			}

			names := device.Supported
			if len(args) == 2 {
				names = []string{args[1]}
			}

			for _, name := range names {
				toggle, ok := manager.IndicationToggle(address, name)
				if !ok {
					logger.Error("Indication not supported", "device", address, "indication", name)
					os.Exit(1)
				}
				active, err := toggle.Get(ctx)
				if err != nil {
					logger.Error("Failed to read indication", "indication", name, "error", err)
					os.Exit(1)
				}
				state := "off"
				if active {
					state = "on"
				}
				fmt.Printf("%s\t%s\n", name, state)
			}
		},
	}

	cmd.Flags().StringVar(&sysfsRoot, "sysfs-root", pci.DefaultRoot, "PCI sysfs device directory")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	return cmd
}

func findDevice(manager *registry.Manager, address string) (registry.DeviceInfo, bool) {
	for _, d := range manager.Devices() {
		if d.Address == address {
			return d, true
		}
	}
	return registry.DeviceInfo{}, false
}
