package receiver

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/huanfeng/adbkit/pkg/models"
)

var (
	getPropPattern  = regexp.MustCompile(`^\[([^\]]+)\]:\s*\[(.*)\]$`)
	envPattern      = regexp.MustCompile(`^([^=\s]+)=(.*)$`)
	batteryPattern  = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z ]*[A-Za-z]):\s*(.*?)\s*$`)
	linkPattern     = regexp.MustCompile(`(\S+)\s+->\s+(\S+)\s*$`)
	installFailure  = regexp.MustCompile(`^Failure\s*\[(.*)\]\s*$`)
	installErrorMsg = regexp.MustCompile(`^Error:\s*(.*)$`)
)

// GetPropReceiver parses getprop "[key]: [value]" lines
type GetPropReceiver struct {
	*LineReceiver
	mu         sync.Mutex
	properties map[string]string
}

// NewGetPropReceiver creates a getprop parser
func NewGetPropReceiver(opts ...Option) *GetPropReceiver {
	r := &GetPropReceiver{properties: make(map[string]string)}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *GetPropReceiver) processLine(line string) {
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "$") {
		return
	}
	m := getPropPattern.FindStringSubmatch(line)
	if m == nil {
		r.Logger().Debug("getprop: skipped line %q", line)
		return
	}
	r.mu.Lock()
	r.properties[m[1]] = m[2]
	r.mu.Unlock()
}

// Properties returns a snapshot of the parsed properties
func (r *GetPropReceiver) Properties() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMap(r.properties)
}

// EnvironmentVariablesReceiver parses printenv "key=value" lines
type EnvironmentVariablesReceiver struct {
	*LineReceiver
	mu        sync.Mutex
	variables map[string]string
}

// NewEnvironmentVariablesReceiver creates a printenv parser
func NewEnvironmentVariablesReceiver(opts ...Option) *EnvironmentVariablesReceiver {
	r := &EnvironmentVariablesReceiver{variables: make(map[string]string)}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *EnvironmentVariablesReceiver) processLine(line string) {
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	m := envPattern.FindStringSubmatch(line)
	if m == nil {
		r.Logger().Debug("printenv: skipped line %q", line)
		return
	}
	r.mu.Lock()
	r.variables[m[1]] = m[2]
	r.mu.Unlock()
}

// Variables returns a snapshot of the parsed variables
func (r *EnvironmentVariablesReceiver) Variables() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMap(r.variables)
}

// MountPointReceiver parses /proc/mounts
type MountPointReceiver struct {
	*LineReceiver
	mu     sync.Mutex
	mounts map[string]models.MountPoint
	order  []string
}

// NewMountPointReceiver creates a /proc/mounts parser
func NewMountPointReceiver(opts ...Option) *MountPointReceiver {
	r := &MountPointReceiver{mounts: make(map[string]models.MountPoint)}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *MountPointReceiver) processLine(line string) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		if line != "" {
			r.Logger().Debug("mounts: skipped line %q", line)
		}
		return
	}
	mp := models.MountPoint{
		Block:      fields[0],
		Name:       fields[1],
		FileSystem: fields[2],
	}
	for _, opt := range strings.Split(fields[3], ",") {
		if opt == "ro" {
			mp.ReadOnly = true
			break
		}
	}

	r.mu.Lock()
	if _, seen := r.mounts[mp.Name]; !seen {
		r.order = append(r.order, mp.Name)
	}
	r.mounts[mp.Name] = mp
	r.mu.Unlock()
}

// MountPoints returns the mounts keyed by mount path
func (r *MountPointReceiver) MountPoints() map[string]models.MountPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.MountPoint, len(r.mounts))
	for k, v := range r.mounts {
		out[k] = v
	}
	return out
}

// List returns the mounts in the order they appeared
func (r *MountPointReceiver) List() []models.MountPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.MountPoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.mounts[name])
	}
	return out
}

// BatteryReceiver parses dumpsys battery
type BatteryReceiver struct {
	*LineReceiver
	mu   sync.Mutex
	info models.BatteryInfo
	seen bool
}

// NewBatteryReceiver creates a dumpsys battery parser
func NewBatteryReceiver(opts ...Option) *BatteryReceiver {
	r := &BatteryReceiver{}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

var batteryStatus = map[int]string{
	1: "unknown",
	2: "charging",
	3: "discharging",
	4: "not-charging",
	5: "full",
}

var batteryHealth = map[int]string{
	1: "unknown",
	2: "good",
	3: "overheat",
	4: "dead",
	5: "over-voltage",
	6: "failure",
	7: "cold",
}

func (r *BatteryReceiver) processLine(line string) {
	m := batteryPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	key := strings.ToLower(m[1])
	value := m[2]

	r.mu.Lock()
	defer r.mu.Unlock()

	switch key {
	case "present":
		r.info.Present = value == "true"
	case "ac powered":
		r.info.ACPowered = value == "true"
	case "usb powered":
		r.info.USBPowered = value == "true"
	case "wireless powered":
		r.info.Wireless = value == "true"
	case "status":
		r.info.Status = enumValue(value, batteryStatus)
	case "health":
		r.info.Health = enumValue(value, batteryHealth)
	case "level":
		r.info.Level = r.atoi(key, value)
	case "scale":
		r.info.Scale = r.atoi(key, value)
	case "voltage":
		r.info.Voltage = r.atoi(key, value)
	case "temperature":
		r.info.Temperature = r.atoi(key, value)
	case "technology":
		r.info.Technology = value
	default:
		return
	}
	r.seen = true
}

func (r *BatteryReceiver) atoi(key, value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		r.Logger().Debug("battery: bad %s value %q", key, value)
	}
	return n
}

func enumValue(value string, names map[int]string) string {
	if n, err := strconv.Atoi(value); err == nil {
		if name, ok := names[n]; ok {
			return name
		}
	}
	return value
}

// BatteryInfo returns the parsed snapshot and whether any field was found
func (r *BatteryReceiver) BatteryInfo() (models.BatteryInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info, r.seen
}

// PackageManagerReceiver parses "package:<path>=<name>" lines
type PackageManagerReceiver struct {
	*LineReceiver
	mu       sync.Mutex
	packages []models.InstalledPackage
}

// NewPackageManagerReceiver creates a pm list packages -f parser
func NewPackageManagerReceiver(opts ...Option) *PackageManagerReceiver {
	r := &PackageManagerReceiver{}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *PackageManagerReceiver) processLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	rest, ok := strings.CutPrefix(line, "package:")
	if !ok {
		r.Logger().Debug("pm: skipped line %q", line)
		return
	}
	pkg := models.InstalledPackage{Name: rest}
	if i := strings.LastIndex(rest, "="); i >= 0 {
		pkg.Path = rest[:i]
		pkg.Name = rest[i+1:]
	}
	if pkg.Name == "" {
		r.Logger().Debug("pm: skipped line %q", line)
		return
	}
	r.mu.Lock()
	r.packages = append(r.packages, pkg)
	r.mu.Unlock()
}

// Packages returns the parsed packages in output order
func (r *PackageManagerReceiver) Packages() []models.InstalledPackage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.InstalledPackage, len(r.packages))
	copy(out, r.packages)
	return out
}

// InstallReceiver detects "Success" or "Failure [reason]"
type InstallReceiver struct {
	*LineReceiver
	mu      sync.Mutex
	success bool
	message string
	output  []string
}

// NewInstallReceiver creates a pm install parser
func NewInstallReceiver(opts ...Option) *InstallReceiver {
	r := &InstallReceiver{}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *InstallReceiver) processLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, line)

	switch {
	case strings.HasPrefix(line, "Success"):
		r.success = true
		r.message = ""
	case installFailure.MatchString(line):
		r.success = false
		r.message = installFailure.FindStringSubmatch(line)[1]
	case strings.HasPrefix(line, "Failure"):
		r.success = false
		r.message = strings.TrimSpace(strings.TrimPrefix(line, "Failure"))
	case installErrorMsg.MatchString(line) && r.message == "":
		r.message = installErrorMsg.FindStringSubmatch(line)[1]
	}
}

// Success reports whether pm printed Success
func (r *InstallReceiver) Success() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.success
}

// ErrorMessage returns the failure reason, or the raw output if pm printed neither marker
func (r *InstallReceiver) ErrorMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.success {
		return ""
	}
	if r.message != "" {
		return r.message
	}
	return strings.Join(r.output, "\n")
}

// LinkResolverReceiver collects "name -> target" pairs from ls -l output
type LinkResolverReceiver struct {
	*LineReceiver
	mu    sync.Mutex
	links map[string]string
}

// NewLinkResolverReceiver creates a symlink table parser
func NewLinkResolverReceiver(opts ...Option) *LinkResolverReceiver {
	r := &LinkResolverReceiver{links: make(map[string]string)}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *LinkResolverReceiver) processLine(line string) {
	m := linkPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	r.mu.Lock()
	r.links[m[1]] = m[2]
	r.mu.Unlock()
}

// Resolve returns the target of the link named name
func (r *LinkResolverReceiver) Resolve(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.links[strings.TrimSuffix(name, "/")]
	return target, ok
}

// BusyBoxCommandsReceiver collects applet names from busybox output
type BusyBoxCommandsReceiver struct {
	*LineReceiver
	mu       sync.Mutex
	inList   bool
	commands []string
}

// NewBusyBoxCommandsReceiver creates a parser for "busybox" or "busybox --list" output
func NewBusyBoxCommandsReceiver(opts ...Option) *BusyBoxCommandsReceiver {
	r := &BusyBoxCommandsReceiver{}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *BusyBoxCommandsReceiver) processLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "Currently defined functions:") {
		r.inList = true
		return
	}
	if trimmed == "" {
		return
	}
	if r.inList {
		for _, cmd := range strings.Split(trimmed, ",") {
			if cmd = strings.TrimSpace(cmd); cmd != "" {
				r.commands = append(r.commands, cmd)
			}
		}
		return
	}
	// busybox --list prints one applet per line
	if !strings.ContainsAny(trimmed, " \t:") {
		r.commands = append(r.commands, trimmed)
	}
}

// Commands returns the applets found
func (r *BusyBoxCommandsReceiver) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
