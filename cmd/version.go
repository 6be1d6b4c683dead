package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huanfeng/adbkit/internal/version"
)

var versionServer bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display version information about adbkit and, with --server, the adb server protocol version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Info())
		if !versionServer {
			return nil
		}
		v, err := newClient().ServerVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("adb server: %s (protocol %d)\n", appConfig.Address(), v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolVar(&versionServer, "server", false, "Also query the adb server version")
}
