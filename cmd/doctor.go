package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/huanfeng/adbkit/internal/config"
	devicemgr "github.com/huanfeng/adbkit/internal/device"
	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/internal/i18n"
	"github.com/huanfeng/adbkit/pkg/client"
	"github.com/huanfeng/adbkit/pkg/device"
)

var (
	doctorTimeout time.Duration
	doctorVerbose bool
)

// doctorReport collects issues and suggestions across checks
type doctorReport struct {
	issues      []string
	suggestions []string
}

func (r *doctorReport) fail(issue string, suggestions ...string) {
	r.issues = append(r.issues, issue)
	r.suggestions = append(r.suggestions, suggestions...)
}

// deviceHealth is what the per-device probe found
type deviceHealth struct {
	Android string
	SDK     string
	Root    bool
	BusyBox bool
	Latency time.Duration
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the adb server and connected devices",
	Long: `The doctor command checks that adbkit can work with your setup.

It checks:
- The configuration file
- The adb server connection and protocol version
- Offline and unauthorized devices
- Shell responsiveness of every online device`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appLogger.Info("Starting diagnostics...")

		fmt.Println("🏥 adbkit Doctor")
		fmt.Println(strings.Repeat("=", 50))

		report := &doctorReport{}
		c := newClient()

		fmt.Println("\n⚙️  Checking Configuration...")
		checkConfiguration(report)

		fmt.Println("\n🔌 Checking adb Server...")
		if checkServer(ctx, c, report) {
			fmt.Println("\n📱 Checking Devices...")
			checkDevices(ctx, c, report)
		}

		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("📊 " + i18n.T("doctor.results"))
		fmt.Println(strings.Repeat("=", 50))

		if len(report.issues) == 0 {
			fmt.Println("✅ " + i18n.T("doctor.allPassed"))
			return nil
		}

		fmt.Println("❌ " + i18n.T("doctor.issuesFound", map[string]interface{}{"Count": len(report.issues)}))
		fmt.Println()
		for i, issue := range report.issues {
			fmt.Printf("%d. %s\n", i+1, issue)
		}
		if len(report.suggestions) > 0 {
			fmt.Println("\n💡 Suggestions to fix these issues:")
			for i, s := range dedupe(report.suggestions) {
				fmt.Printf("%d. %s\n", i+1, s)
			}
		}
		return adberrors.NewError(adberrors.KindConnection, "DOCTOR", "diagnostics found issues")
	},
}

func checkConfiguration(report *doctorReport) {
	source := cfgFile
	if source == "" {
		source = "defaults"
	}
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Printf("   ❌ Configuration: Invalid (%s)\n", source)
		report.fail(fmt.Sprintf("Config error: %v", err), "Regenerate the file with 'adbkit config init --force'")
		return
	}
	fmt.Printf("   ✅ Configuration: Valid (%s)\n", source)
	if doctorVerbose {
		fmt.Printf("   ℹ️  Server address: %s\n", appConfig.Address())
		fmt.Printf("   ℹ️  Sync chunk size: %d\n", appConfig.Sync.ChunkSize)
	}
}

func checkServer(ctx context.Context, c *client.Client, report *doctorReport) bool {
	start := time.Now()
	v, err := c.ServerVersion(ctx)
	if err != nil {
		fmt.Printf("   ❌ adb server at %s: %v\n", c.Address(), err)
		report.fail("adb server is not reachable at "+c.Address(),
			"Start the server with 'adb start-server'",
			"Check --host and --port or adb.host and adb.port in the config")
		return false
	}
	fmt.Printf("   ✅ adb server at %s: protocol %d (%.2fms)\n", c.Address(), v,
		float64(time.Since(start).Microseconds())/1000)
	return true
}

func checkDevices(ctx context.Context, c *client.Client, report *doctorReport) {
	devices, err := c.GetDevices(ctx)
	if err != nil {
		fmt.Printf("   ❌ Device list: %v\n", err)
		report.fail(fmt.Sprintf("Cannot list devices: %v", err))
		return
	}
	if len(devices) == 0 {
		fmt.Println("   ⚠️  " + i18n.T("devices.none"))
		report.fail("No devices connected",
			"Connect your Android device via USB",
			"Enable USB debugging in Developer Options")
		return
	}

	var online []string
	for _, d := range devices {
		switch d.State {
		case client.StateOnline:
			online = append(online, d.Serial)
		case client.StateUnauthorized:
			fmt.Printf("   🔒 %s: unauthorized\n", formatDevice(d))
			report.fail(d.Serial+" is unauthorized", "Allow USB debugging when prompted on the device")
		default:
			fmt.Printf("   🔴 %s: %s\n", formatDevice(d), d.State)
			report.fail(fmt.Sprintf("%s is %s", d.Serial, d.State), "Try reconnecting or restarting the device")
		}
	}

	mgr := devicemgr.NewManager[deviceHealth]()
	results := mgr.Run(ctx, online, func(ctx context.Context, serial string) (deviceHealth, error) {
		return probeDevice(ctx, c, serial)
	})
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("   ❌ %s: %v\n", r.Serial, r.Err)
			suggestions := []string{"Restart the device or run 'adb kill-server'"}
			if adberrors.IsKind(r.Err, adberrors.KindShellUnresponsive) {
				suggestions = append([]string{"The shell did not answer in time; raise --timeout if the device is slow"}, suggestions...)
			}
			report.fail(fmt.Sprintf("%s does not respond to shell commands", r.Serial), suggestions...)
			continue
		}
		h := r.Value
		fmt.Printf("   ✅ %s: Android %s (API %s), shell %.2fms\n", r.Serial, h.Android, h.SDK,
			float64(h.Latency.Microseconds())/1000)
		if doctorVerbose {
			fmt.Printf("   ℹ️  root: %v, busybox: %v\n", h.Root, h.BusyBox)
		}
	}
}

// probeDevice checks that the shell answers within the doctor timeout
func probeDevice(ctx context.Context, c *client.Client, serial string) (deviceHealth, error) {
	var h deviceHealth
	d, err := device.Open(ctx, c, serial,
		device.WithLogger(appLogger),
		device.WithFirstOutputTimeout(doctorTimeout))
	if err != nil {
		return h, err
	}
	defer d.Close()

	start := time.Now()
	out, err := d.Output(ctx, "echo ok")
	if err != nil {
		return h, err
	}
	if strings.TrimSpace(out) != "ok" {
		return h, adberrors.Errorf(adberrors.KindProtocol, "SHELL_OUTPUT", "unexpected shell output %q", out)
	}
	h.Latency = time.Since(start)

	if props, err := d.Properties(ctx, false); err == nil {
		h.Android = props["ro.build.version.release"]
		h.SDK = props["ro.build.version.sdk"]
	}
	if doctorVerbose {
		h.Root = d.CanSU(ctx)
		h.BusyBox = d.BusyBox().Available(ctx)
	}
	return h, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 5*time.Second, "Shell response timeout per device")
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "Show detailed diagnostic information")
}
