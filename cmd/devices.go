package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/huanfeng/adbkit/internal/i18n"
	"github.com/huanfeng/adbkit/pkg/client"
	"github.com/huanfeng/adbkit/pkg/device"
)

var (
	devicesFormat      string
	devicesWaitTimeout time.Duration
	watchMetricsAddr   string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected Android devices",
	Long:  `List the devices known to the adb server with their state and model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := newClient().GetDevices(cmd.Context())
		if err != nil {
			return err
		}

		switch devicesFormat {
		case "json":
			return printJSON(devices)
		case "table":
			showDevicesTable(devices)
		default:
			showDevicesDefault(devices)
		}
		return nil
	},
}

var devicesInfoCmd = &cobra.Command{
	Use:   "info [serial]",
	Short: "Show detailed information about a device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			serialFlag = args[0]
		}
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		showDeviceDetails(ctx, d)
		return nil
	},
}

var devicesWaitCmd = &cobra.Command{
	Use:   "wait [serial]",
	Short: "Wait for a device to come online",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serial := serialFlag
		if len(args) == 1 {
			serial = args[0]
		}

		ctx := cmd.Context()
		if devicesWaitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, devicesWaitTimeout)
			defer cancel()
		}

		d, err := newClient().WaitForDevice(ctx, serial, 500*time.Millisecond)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s\n", formatDevice(d))
		return nil
	},
}

var devicesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print device connect, disconnect and state changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		addr := watchMetricsAddr
		if addr == "" {
			addr = appConfig.Metrics.Addr
		}
		if addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					appLogger.Error("metrics endpoint: %v", err)
				}
			}()
			defer srv.Close()
			appLogger.Info("serving metrics on %s/metrics", addr)
		}

		monitor := newClient().NewDeviceMonitor()
		monitor.Subscribe(func(ev client.DeviceEvent) {
			if devicesFormat == "json" {
				_ = printJSON(ev)
				return
			}
			fmt.Printf("%s  %-8s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, formatDevice(ev.Device))
		})

		fmt.Println(i18n.T("watch.started"))
		if err := monitor.Start(ctx); err != nil {
			return err
		}
		<-monitor.Done()
		if ctx.Err() != nil {
			return nil
		}
		return monitor.Err()
	},
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", appMetrics.Handler())
	return mux
}

// showDevicesDefault groups devices by state
func showDevicesDefault(devices []client.DeviceDescriptor) {
	fmt.Printf("📱 Android Devices\n")
	fmt.Printf("==================\n\n")

	if len(devices) == 0 {
		fmt.Println("❌ " + i18n.T("devices.none"))
		fmt.Println("\n💡 Troubleshooting:")
		fmt.Println("   • Connect your Android device via USB")
		fmt.Println("   • Enable USB debugging in Developer Options")
		fmt.Println("   • Authorize this computer when prompted")
		return
	}

	var online, offline, unauthorized, other []client.DeviceDescriptor
	for _, d := range devices {
		switch d.State {
		case client.StateOnline:
			online = append(online, d)
		case client.StateOffline:
			offline = append(offline, d)
		case client.StateUnauthorized:
			unauthorized = append(unauthorized, d)
		default:
			other = append(other, d)
		}
	}

	printGroup := func(title string, group []client.DeviceDescriptor, hint string) {
		if len(group) == 0 {
			return
		}
		fmt.Printf("%s (%d):\n", title, len(group))
		for i, d := range group {
			fmt.Printf("%d. %s\n", i+1, formatDevice(d))
		}
		if hint != "" {
			fmt.Printf("   💡 %s\n", hint)
		}
		fmt.Println()
	}
	printGroup("🟢 Online Devices", online, "")
	printGroup("🔴 Offline Devices", offline, "Try reconnecting or restarting the device")
	printGroup("🔒 Unauthorized Devices", unauthorized, "Allow USB debugging when prompted on the device")
	printGroup("🟡 Other States", other, "")

	fmt.Println("📊 " + i18n.T("devices.summary", map[string]interface{}{
		"Total":        len(devices),
		"Online":       len(online),
		"Offline":      len(offline),
		"Unauthorized": len(unauthorized),
	}))
}

// showDevicesTable displays devices in table format
func showDevicesTable(devices []client.DeviceDescriptor) {
	if len(devices) == 0 {
		fmt.Println(i18n.T("devices.none"))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tSTATE\tMODEL\tPRODUCT\tTRANSPORT\tTYPE")
	fmt.Fprintln(w, "------\t-----\t-----\t-------\t---------\t----")
	for _, d := range devices {
		deviceType := "Device"
		if d.IsEmulator() {
			deviceType = "Emulator"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Serial, d.State, d.Model, d.Product, d.TransportID, deviceType)
	}
	w.Flush()
}

// formatDevice formats a descriptor for one line of output
func formatDevice(d client.DeviceDescriptor) string {
	info := d.Serial
	if d.Model != "" {
		info = fmt.Sprintf("%s (%s)", d.Model, d.Serial)
	}
	if d.IsEmulator() {
		info += " [Emulator]"
	}
	if !d.IsOnline() {
		info += " - " + d.State.String()
	}
	return info
}

// showDeviceDetails prints descriptor fields and the usual build properties
func showDeviceDetails(ctx context.Context, d *device.Device) {
	desc := d.Descriptor()
	fmt.Printf("📱 Device Information\n")
	fmt.Printf("====================\n\n")

	fmt.Printf("Serial: %s\n", desc.Serial)
	fmt.Printf("State: %s\n", desc.State)
	if desc.Model != "" {
		fmt.Printf("Model: %s\n", desc.Model)
	}
	if desc.Product != "" {
		fmt.Printf("Product: %s\n", desc.Product)
	}
	if desc.Name != "" {
		fmt.Printf("Device: %s\n", desc.Name)
	}
	if desc.TransportID != "" {
		fmt.Printf("Transport ID: %s\n", desc.TransportID)
	}
	fmt.Printf("Type: %s\n", map[bool]string{true: "Emulator", false: "Physical Device"}[desc.IsEmulator()])

	switch desc.State {
	case client.StateOnline:
	case client.StateOffline:
		fmt.Printf("\n🔴 Device is offline\n")
		return
	case client.StateUnauthorized:
		fmt.Printf("\n🔒 Device is unauthorized\n")
		fmt.Printf("💡 Allow USB debugging when prompted on the device\n")
		return
	default:
		return
	}

	props, err := d.Properties(ctx, false)
	if err != nil {
		appLogger.Warn("getprop failed: %v", err)
		return
	}
	for _, p := range []struct{ label, key string }{
		{"Manufacturer", "ro.product.manufacturer"},
		{"Brand", "ro.product.brand"},
		{"Android Version", "ro.build.version.release"},
		{"API Level", "ro.build.version.sdk"},
		{"ABI", "ro.product.cpu.abi"},
		{"Build", "ro.build.display.id"},
	} {
		if v := props[p.key]; v != "" {
			fmt.Printf("%s: %s\n", p.label, v)
		}
	}
	if info, err := d.Battery(ctx); err == nil {
		fmt.Printf("Battery: %d%% (%s)\n", info.CalculatedLevel(), info.Status)
	}
	fmt.Printf("\n✅ Device is online and ready for use\n")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.AddCommand(devicesInfoCmd)
	devicesCmd.AddCommand(devicesWaitCmd)
	devicesCmd.AddCommand(devicesWatchCmd)

	devicesCmd.PersistentFlags().StringVar(&devicesFormat, "format", "default", "Output format: default, table, json")
	devicesWaitCmd.Flags().DurationVar(&devicesWaitTimeout, "timeout", 60*time.Second, "Give up after this long (0 = wait forever)")
	devicesWatchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
}
