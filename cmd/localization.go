package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/huanfeng/adbkit/internal/i18n"
)

// localize replaces a string with its translation when the catalog has one
func localize(dst *string, id string) {
	if msg := i18n.T(id); msg != id {
		*dst = msg
	}
}

func localizeCommand(c *cobra.Command, key string) {
	localize(&c.Short, "cmd."+key+".short")
	localize(&c.Long, "cmd."+key+".long")
}

func localizeFlag(fs *pflag.FlagSet, name, id string) {
	if flag := fs.Lookup(name); flag != nil {
		localize(&flag.Usage, "flags."+id)
	}
}

// applyCommandLocalization updates command and flag descriptions after i18n is initialized.
func applyCommandLocalization() {
	localizeCommand(rootCmd, "root")

	pf := rootCmd.PersistentFlags()
	localizeFlag(pf, "config", "config")
	localizeFlag(pf, "host", "host")
	localizeFlag(pf, "port", "port")
	localizeFlag(pf, "serial", "serial")
	localizeFlag(pf, "log-level", "logLevel")
	localizeFlag(pf, "log-format", "logFormat")
	localizeFlag(pf, "log-file", "logFile")
	localizeFlag(pf, "lang", "lang")
	localizeFlag(pf, "error-report-dir", "errorReportDir")

	for key, c := range map[string]*cobra.Command{
		"devices":     devicesCmd,
		"devicesInfo": devicesInfoCmd,
		"devicesWait": devicesWaitCmd,
		"watch":       devicesWatchCmd,
		"shell":       shellCmd,
		"ls":          lsCmd,
		"stat":        statCmd,
		"push":        pushCmd,
		"pull":        pullCmd,
		"install":     installCmd,
		"uninstall":   uninstallCmd,
		"packages":    packagesCmd,
		"props":       propsCmd,
		"env":         envCmd,
		"battery":     batteryCmd,
		"mounts":      mountsCmd,
		"forward":     forwardCmd,
		"reboot":      rebootCmd,
		"remount":     remountCmd,
		"framebuffer": framebufferCmd,
		"logcat":      logcatCmd,
		"connect":     connectCmd,
		"disconnect":  disconnectCmd,
		"doctor":      doctorCmd,
		"version":     versionCmd,
		"config":      configCmd,
		"configInit":  configInitCmd,
		"configShow":  configShowCmd,
	} {
		localizeCommand(c, key)
	}

	localizeFlag(shellCmd.Flags(), "all", "all")
	localizeFlag(shellCmd.Flags(), "device", "device")
	localizeFlag(installCmd.Flags(), "all", "all")
	localizeFlag(installCmd.Flags(), "device", "device")
	localizeFlag(pushCmd.Flags(), "no-progress", "noProgress")
	localizeFlag(pullCmd.Flags(), "no-progress", "noProgress")
}
