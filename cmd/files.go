package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/huanfeng/adbkit/internal/i18n"
	"github.com/huanfeng/adbkit/pkg/device"
	"github.com/huanfeng/adbkit/pkg/models"
	"github.com/huanfeng/adbkit/pkg/utils"
	"github.com/huanfeng/adbkit/pkg/wire"
)

var (
	lsJSON     bool
	lsSync     bool
	statJSON   bool
	noProgress bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [remote-path]",
	Short: "List a remote directory",
	Long: `List a remote directory with the device ls command. Symbolic links to
directories are marked with a trailing '/'. Use --sync to list through the
sync service instead, which works without a shell but reports less detail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote := "/"
		if len(args) == 1 {
			remote = args[0]
		}
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		if lsSync {
			return listWithSync(ctx, d, remote)
		}

		listing := d.FileListingService()
		entry, err := listing.FindEntry(ctx, remote)
		if err != nil {
			return err
		}
		entries := []*models.FileEntry{entry}
		if entry.IsDirectory() {
			if entries, err = listing.Children(ctx, entry, false); err != nil {
				return err
			}
		}
		if lsJSON {
			return printJSON(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
		for _, e := range entries {
			name := e.Name
			if e.Type == models.FileTypeDirectoryLink {
				name += "/"
			}
			if e.LinkTarget != "" {
				name += " -> " + e.LinkTarget
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", e.Permissions, e.Owner, e.Group, e.Size,
				e.ModTime.Format("2006-01-02 15:04"), name)
		}
		return w.Flush()
	},
}

func listWithSync(ctx context.Context, d *device.Device, remote string) error {
	s, err := d.Sync(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.List(ctx, remote)
	if err != nil {
		return err
	}
	if lsJSON {
		return printJSON(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", wire.ToFileMode(e.Mode), e.Size,
			e.ModTime().Local().Format("2006-01-02 15:04"), e.Name)
	}
	return w.Flush()
}

var statCmd = &cobra.Command{
	Use:   "stat <remote-path>",
	Short: "Show mode, size and modification time of a remote path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		s, err := d.Sync(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		st, err := s.Stat(ctx, args[0])
		if err != nil {
			return err
		}
		if statJSON {
			return printJSON(map[string]interface{}{
				"path":  args[0],
				"mode":  fmt.Sprintf("%o", st.Mode),
				"size":  st.Size,
				"mtime": st.ModTime(),
			})
		}
		fmt.Printf("  File: %s\n", args[0])
		fmt.Printf("  Mode: %s (%o)\n", wire.ToFileMode(st.Mode), st.Mode)
		fmt.Printf("  Size: %d\n", st.Size)
		fmt.Printf("Modify: %s\n", st.ModTime().Local().Format("2006-01-02 15:04:05 -0700"))
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <local>... <remote>",
	Short: "Copy local files or directories to the device",
	Long: `Copy local files or directories to the device. A single file may be
given a remote file name; otherwise remote is the destination directory.
Ctrl+C stops the transfer at the next chunk.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		locals, remote := args[:len(args)-1], args[len(args)-1]
		if len(locals) == 1 && !strings.HasSuffix(remote, "/") {
			if fi, err := os.Stat(locals[0]); err == nil && fi.Mode().IsRegular() {
				if isRemoteDir(ctx, d, remote) {
					remote = path.Join(remote, filepath.Base(locals[0]))
				}
				return pushSingle(ctx, d, locals[0], remote, fi.Size())
			}
		}

		var total device.TransferResult
		for _, local := range locals {
			res, err := runTree(ctx, func(ctx context.Context, tp *utils.TransferProgress) (device.TransferResult, error) {
				return d.PushTree(ctx, local, remote, tp)
			})
			total = addResults(total, res)
			if err != nil {
				return err
			}
			if res.Canceled {
				break
			}
		}
		printTransferSummary(total)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <remote> [local]",
	Short: "Copy a remote file or directory from the device",
	Long: `Copy a remote file or directory from the device. Directories are copied
recursively; links to directories inside them are not followed.
Ctrl+C stops the transfer at the next chunk and keeps what was copied.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDevice(ctx, newClient())
		if err != nil {
			return err
		}
		defer d.Close()

		remote, local := args[0], "."
		if len(args) == 2 {
			local = args[1]
		}

		s, err := d.Sync(ctx)
		if err != nil {
			return err
		}
		st, err := s.Stat(ctx, remote)
		s.Close()
		if err != nil {
			return err
		}

		if !st.IsDir() && st.Mode&wire.TypeMask != wire.ModeSymlink {
			if fi, err := os.Stat(local); err == nil && fi.IsDir() {
				local = filepath.Join(local, path.Base(remote))
			}
			return pullSingle(ctx, d, remote, local, int64(st.Size))
		}

		res, err := runTree(ctx, func(ctx context.Context, tp *utils.TransferProgress) (device.TransferResult, error) {
			return d.PullTree(ctx, remote, local, tp)
		})
		if err != nil {
			return err
		}
		printTransferSummary(res)
		return nil
	},
}

func isRemoteDir(ctx context.Context, d *device.Device, remote string) bool {
	s, err := d.Sync(ctx)
	if err != nil {
		return false
	}
	defer s.Close()
	st, err := s.Stat(ctx, remote)
	return err == nil && st.IsDir()
}

func newBar(total int64, desc string) *utils.ProgressBar {
	if noProgress {
		return nil
	}
	return utils.NewProgressBar(total, desc)
}

func pushSingle(ctx context.Context, d *device.Device, local, remote string, size int64) error {
	bar := newBar(size, filepath.Base(local))
	n, err := d.PushFile(ctx, local, remote, func(done int64) {
		if bar != nil {
			bar.Update(done)
		}
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	printTransferSummary(device.TransferResult{Files: 1, Bytes: n, Total: size})
	return nil
}

func pullSingle(ctx context.Context, d *device.Device, remote, local string, size int64) error {
	bar := newBar(size, path.Base(remote))
	n, err := d.PullFile(ctx, remote, local, func(done int64) {
		if bar != nil {
			bar.Update(done)
		}
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	printTransferSummary(device.TransferResult{Files: 1, Bytes: n, Total: size})
	return nil
}

// runTree runs a tree transfer whose cancel flag follows the command
// context, so Ctrl+C ends it with a partial result instead of an error.
func runTree(ctx context.Context, fn func(context.Context, *utils.TransferProgress) (device.TransferResult, error)) (device.TransferResult, error) {
	tp := utils.NewTransferProgress(os.Stderr)
	if noProgress {
		tp = utils.NewTransferProgress(nil)
	}
	stop := context.AfterFunc(ctx, tp.Cancel)
	defer stop()
	return fn(context.WithoutCancel(ctx), tp)
}

func addResults(a, b device.TransferResult) device.TransferResult {
	return device.TransferResult{
		Files:    a.Files + b.Files,
		Dirs:     a.Dirs + b.Dirs,
		Bytes:    a.Bytes + b.Bytes,
		Total:    a.Total + b.Total,
		Canceled: a.Canceled || b.Canceled,
	}
}

func printTransferSummary(res device.TransferResult) {
	data := map[string]interface{}{
		"Files": res.Files,
		"Dirs":  res.Dirs,
		"Bytes": utils.FormatBytes(res.Bytes),
	}
	if res.Canceled {
		fmt.Println(i18n.T("transfer.canceled", data))
		return
	}
	fmt.Println(i18n.T("transfer.done", data))
}

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)

	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Print entries as JSON")
	lsCmd.Flags().BoolVar(&lsSync, "sync", false, "List with the sync service instead of ls")
	statCmd.Flags().BoolVar(&statJSON, "json", false, "Print as JSON")
	pushCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not draw a progress bar")
	pullCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not draw a progress bar")
}
