package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/huanfeng/adbkit/pkg/device"
	"github.com/huanfeng/adbkit/pkg/utils"
)

var (
	propsRefresh   bool
	outputJSON     bool
	forwardList    bool
	forwardRemove  bool
	forwardAll     bool
	framebufferOut string
	logcatLevel    string
	logcatPackage  string
	logcatOutput   string
)

var propsCmd = &cobra.Command{
	Use:   "props [name]",
	Short: "Show device properties (getprop)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		if len(args) == 1 {
			v, err := d.Property(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		}
		props, err := d.Properties(ctx, propsRefresh)
		if err != nil {
			return err
		}
		return printMap(props, "[%s]: [%s]\n")
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Show the shell environment of the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		env, err := d.EnvironmentVariables(ctx)
		if err != nil {
			return err
		}
		return printMap(env, "%s=%s\n")
	},
}

var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Show battery state (dumpsys battery)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		info, err := d.Battery(ctx)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(info)
		}
		fmt.Printf("🔋 Level: %d%%\n", info.CalculatedLevel())
		fmt.Printf("Status: %s\n", info.Status)
		fmt.Printf("Health: %s\n", info.Health)
		fmt.Printf("Temperature: %.1f°C\n", float64(info.Temperature)/10)
		fmt.Printf("Voltage: %d mV\n", info.Voltage)
		var sources []string
		if info.ACPowered {
			sources = append(sources, "AC")
		}
		if info.USBPowered {
			sources = append(sources, "USB")
		}
		if info.Wireless {
			sources = append(sources, "Wireless")
		}
		if len(sources) > 0 {
			fmt.Printf("Charging from: %s\n", strings.Join(sources, ", "))
		}
		return nil
	},
}

var mountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "Show mounted file systems (/proc/mounts)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		mounts, err := d.MountPoints(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(mounts))
		for name := range mounts {
			names = append(names, name)
		}
		sort.Strings(names)
		if outputJSON {
			list := make([]interface{}, 0, len(names))
			for _, n := range names {
				list = append(list, mounts[n])
			}
			return printJSON(list)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MOUNT\tTYPE\tMODE\tDEVICE")
		for _, n := range names {
			m := mounts[n]
			mode := "rw"
			if m.ReadOnly {
				mode = "ro"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.FileSystem, mode, m.Block)
		}
		return w.Flush()
	},
}

var forwardCmd = &cobra.Command{
	Use:   "forward [local] [remote]",
	Short: "Manage port forwards (tcp:<port>, localabstract:<name>, ...)",
	Long: `Create a forward with "forward <local> <remote>", list forwards with
--list, remove one with "--remove <local>" and all of a device with
--remove --all.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient()

		if forwardList {
			specs, err := c.ListForward(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(specs)
			}
			for _, s := range specs {
				fmt.Printf("%s %s %s\n", s.Serial, s.Local, s.Remote)
			}
			return nil
		}

		d, err := openDevice(ctx, c)
		if err != nil {
			return err
		}
		defer d.Close()

		switch {
		case forwardRemove && forwardAll:
			return d.RemoveAllForwards(ctx)
		case forwardRemove:
			if len(args) != 1 {
				return commandError("forward --remove takes the local address")
			}
			return d.RemoveForward(ctx, args[0])
		case len(args) == 2:
			if err := d.CreateForward(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ %s -> %s\n", args[0], args[1])
			return nil
		}
		return commandError("forward needs <local> <remote>, --list or --remove")
	},
}

var rebootCmd = &cobra.Command{
	Use:       "reboot [bootloader|recovery|sideload]",
	Short:     "Reboot the device",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"bootloader", "recovery", "sideload"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		into := ""
		if len(args) == 1 {
			into = args[0]
		}
		return d.Reboot(ctx, into)
	},
}

var remountCmd = &cobra.Command{
	Use:   "remount",
	Short: "Remount the system partitions read-write",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		out, err := d.Remount(ctx)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var framebufferCmd = &cobra.Command{
	Use:   "framebuffer",
	Short: "Capture the screen as raw framebuffer bytes",
	Long: `Capture the screen through the framebuffer service and write the pixel
data, in the device format, to --output. The header is printed to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		img, err := d.FrameBuffer(ctx)
		if err != nil {
			return err
		}
		if framebufferOut != "" {
			if err := os.WriteFile(framebufferOut, img.Data, 0o644); err != nil {
				return err
			}
		}
		if outputJSON {
			return printJSON(img)
		}
		fmt.Printf("%dx%d, %d bpp, %s (version %d)\n", img.Width, img.Height, img.Bpp,
			utils.FormatBytes(int64(len(img.Data))), img.Version)
		fmt.Printf("red %d/%d green %d/%d blue %d/%d alpha %d/%d\n",
			img.RedOffset, img.RedLength, img.GreenOffset, img.GreenLength,
			img.BlueOffset, img.BlueLength, img.AlphaOffset, img.AlphaLength)
		return nil
	},
}

var logcatCmd = &cobra.Command{
	Use:   "logcat",
	Short: "Dump the device log to a file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		res, err := d.CaptureLogs(ctx, device.LogCaptureOptions{
			PackageID:  logcatPackage,
			Level:      logcatLevel,
			OutputPath: logcatOutput,
		})
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(res)
		}
		fmt.Printf("✓ %s (%s)\n", res.OutputPath, utils.FormatBytes(res.SizeBytes))
		if res.Note != "" {
			fmt.Printf("   💡 %s\n", res.Note)
		}
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <host[:port]>",
	Short: "Connect to a device over TCP/IP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newClient().Connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <host[:port]>",
	Short: "Disconnect a TCP/IP device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newClient().Disconnect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

func printMap(m map[string]string, format string) error {
	if outputJSON {
		return printJSON(m)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf(format, k, m[k])
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{propsCmd, envCmd, batteryCmd, mountsCmd, forwardCmd, framebufferCmd, logcatCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(remountCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)

	propsCmd.Flags().BoolVar(&propsRefresh, "refresh", false, "Ignore cached properties")
	forwardCmd.Flags().BoolVarP(&forwardList, "list", "l", false, "List every forward of the server")
	forwardCmd.Flags().BoolVar(&forwardRemove, "remove", false, "Remove a forward")
	forwardCmd.Flags().BoolVar(&forwardAll, "all", false, "With --remove, remove every forward of the device")
	framebufferCmd.Flags().StringVarP(&framebufferOut, "output", "o", "", "Write pixel data to this file")
	logcatCmd.Flags().StringVarP(&logcatLevel, "level", "l", "I", "Minimum priority: V, D, I, W, E, F, S")
	logcatCmd.Flags().StringVarP(&logcatPackage, "package", "p", "", "Only log lines of this app's process")
	logcatCmd.Flags().StringVarP(&logcatOutput, "output", "o", "", "Output file (default logs/<serial>-<time>.log)")
}
