package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	devicemgr "github.com/huanfeng/adbkit/internal/device"
	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/internal/i18n"
	"github.com/huanfeng/adbkit/pkg/device"
	"github.com/huanfeng/adbkit/pkg/utils"
)

var (
	installReplace   bool
	installDowngrade bool
	installGrant     bool
	installRemote    bool
	installAll       bool
	installDevices   []string

	uninstallKeepData bool

	packagesFilter string
	packagesJSON   bool
)

var installCmd = &cobra.Command{
	Use:   "install <apk-path>",
	Short: "Install an APK on a device",
	Long: `Push a local APK to /data/local/tmp, install it with pm and remove the
staged copy. With --remote the path is already on the device. With --all or
--device the APK is installed on several devices at once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		apkPath := args[0]

		if !installRemote {
			if _, err := os.Stat(apkPath); err != nil {
				return adberrors.NewIOError(err, "APK file not found: "+apkPath)
			}
			if info, err := device.ReadApkInfo(apkPath); err == nil {
				fmt.Printf("APK: %s %s (%d), %s\n", info.PackageName, info.VersionName, info.VersionCode, utils.FormatBytes(info.Size))
			} else {
				appLogger.Warn("cannot read APK manifest: %v", err)
			}
		}

		options := device.InstallOptions{
			Replace:          installReplace,
			Downgrade:        installDowngrade,
			GrantPermissions: installGrant,
		}

		c := newClient()
		serials, err := resolveTargetDevices(ctx, c, installDevices, installAll)
		if err != nil {
			return err
		}

		mgr := devicemgr.NewManager[*device.InstallResult]()
		results := mgr.Run(ctx, serials, func(ctx context.Context, serial string) (*device.InstallResult, error) {
			d, err := device.Open(ctx, c, serial, deviceOptions()...)
			if err != nil {
				return nil, err
			}
			defer d.Close()

			pm := d.PackageManager()
			if installRemote {
				return pm.InstallRemotePackage(ctx, apkPath, options)
			}
			return pm.InstallPackage(ctx, apkPath, options, nil)
		})

		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.Serial, r.Err)
				if r.Value != nil {
					for _, s := range r.Value.Suggestions {
						fmt.Fprintf(os.Stderr, "   💡 %s\n", s)
					}
				}
				continue
			}
			fmt.Println("✓ " + i18n.T("install.success", map[string]interface{}{
				"Path":     apkPath,
				"Serial":   r.Serial,
				"Duration": r.Value.Duration.Round(time.Millisecond).String(),
			}))
		}
		if failed == 1 && len(results) == 1 {
			return results[0].Err
		}
		if failed > 0 {
			return fmt.Errorf("installation failed on %d of %d devices", failed, len(results))
		}
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package>",
	Short: "Remove an installed package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.PackageManager().UninstallPackage(ctx, args[0], uninstallKeepData); err != nil {
			return err
		}
		fmt.Println("✓ " + i18n.T("uninstall.success", map[string]interface{}{"Package": args[0], "Serial": d.Serial()}))
		return nil
	},
}

var packagesCmd = &cobra.Command{
	Use:   "packages [package]",
	Short: "List installed packages, or show the version of one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()
		pm := d.PackageManager()

		if len(args) == 1 {
			v, err := pm.InstalledVersion(ctx, args[0])
			if err != nil {
				return err
			}
			if packagesJSON {
				return printJSON(v)
			}
			fmt.Printf("Package: %s\nVersion: %s (%d)\n", v.PackageName, v.VersionName, v.VersionCode)
			if v.MinSDK > 0 || v.TargetSDK > 0 {
				fmt.Printf("SDK: min %d, target %d\n", v.MinSDK, v.TargetSDK)
			}
			return nil
		}

		pkgs, err := pm.Packages(ctx)
		if err != nil {
			return err
		}
		sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
		if packagesFilter != "" {
			filtered := pkgs[:0]
			for _, p := range pkgs {
				if strings.Contains(p.Name, packagesFilter) {
					filtered = append(filtered, p)
				}
			}
			pkgs = filtered
		}
		if packagesJSON {
			return printJSON(pkgs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, p := range pkgs {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Path)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(packagesCmd)

	installCmd.Flags().BoolVarP(&installReplace, "replace", "r", true, "Replace existing application")
	installCmd.Flags().BoolVarP(&installDowngrade, "downgrade", "d", false, "Allow version downgrade")
	installCmd.Flags().BoolVarP(&installGrant, "grant", "g", true, "Grant all runtime permissions")
	installCmd.Flags().BoolVar(&installRemote, "remote", false, "The APK path is on the device")
	installCmd.Flags().BoolVarP(&installAll, "all", "a", false, "Install on every online device")
	installCmd.Flags().StringSliceVar(&installDevices, "device", nil, "Install on these serials")

	uninstallCmd.Flags().BoolVarP(&uninstallKeepData, "keep-data", "k", false, "Keep the data and cache directories")

	packagesCmd.Flags().StringVarP(&packagesFilter, "filter", "f", "", "Only packages whose name contains this text")
	packagesCmd.Flags().BoolVar(&packagesJSON, "json", false, "Print as JSON")
}
