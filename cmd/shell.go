package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	devicemgr "github.com/huanfeng/adbkit/internal/device"
	"github.com/huanfeng/adbkit/pkg/client"
	"github.com/huanfeng/adbkit/pkg/receiver"
)

var (
	shellAll      bool
	shellDevices  []string
	shellTimeout  time.Duration
	shellParallel int
	shellNoPrefix bool
)

var shellCmd = &cobra.Command{
	Use:   "shell <command> [args...]",
	Short: "Run a shell command on one or more devices",
	Long: `Run a command through the adb shell service and stream its output.
With --all or several --device flags the command runs on every device
concurrently and each output line is prefixed with the device serial.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient()
		command := strings.Join(args, " ")

		var opts []client.ShellOption
		timeout := shellTimeout
		if timeout == 0 {
			timeout = appConfig.Shell.FirstOutputTimeout
		}
		if timeout > 0 {
			opts = append(opts, client.WithFirstOutputTimeout(timeout))
		}

		if !shellAll && len(shellDevices) == 0 {
			serial, err := resolveSerial(ctx, c)
			if err != nil {
				return err
			}
			rcv := &writerReceiver{out: os.Stdout}
			return c.ExecuteRemoteCommand(ctx, command, serial, rcv, opts...)
		}

		serials, err := resolveTargetDevices(ctx, c, shellDevices, shellAll)
		if err != nil {
			return err
		}

		var outMu sync.Mutex
		mgr := devicemgr.NewManager[int](devicemgr.WithWorkerLimit[int](shellParallel))
		results := mgr.Run(ctx, serials, func(ctx context.Context, serial string) (int, error) {
			lines := 0
			rcv := receiver.NewLineReceiver(func(line string) {
				outMu.Lock()
				defer outMu.Unlock()
				lines++
				if shellNoPrefix {
					fmt.Println(line)
				} else {
					fmt.Printf("[%s] %s\n", serial, line)
				}
			}, receiver.WithLogger(appLogger))
			err := c.ExecuteRemoteCommand(ctx, command, serial, rcv, opts...)
			return lines, err
		})

		failed := devicemgr.Failed(results)
		for _, r := range failed {
			fmt.Fprintf(os.Stderr, "[%s] error: %v\n", r.Serial, r.Err)
		}
		if len(failed) > 0 {
			return fmt.Errorf("command failed on %d of %d devices", len(failed), len(results))
		}
		return nil
	},
}

// writerReceiver streams raw output without line splitting
type writerReceiver struct {
	out *os.File
}

func (r *writerReceiver) AddOutput(data []byte) { _, _ = r.out.Write(data) }
func (r *writerReceiver) Flush()                {}
func (r *writerReceiver) IsCanceled() bool      { return false }

func init() {
	rootCmd.AddCommand(shellCmd)

	shellCmd.Flags().SetInterspersed(false)
	shellCmd.Flags().BoolVarP(&shellAll, "all", "a", false, "Run on every online device")
	shellCmd.Flags().StringSliceVarP(&shellDevices, "device", "d", nil, "Run on these serials (repeatable or comma separated)")
	shellCmd.Flags().DurationVar(&shellTimeout, "timeout", 0, "Fail when the command prints nothing for this long")
	shellCmd.Flags().IntVar(&shellParallel, "parallel", 4, "Maximum number of devices at once")
	shellCmd.Flags().BoolVar(&shellNoPrefix, "no-prefix", false, "Do not prefix lines with the device serial")
}
