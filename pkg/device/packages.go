package device

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shogo82148/androidbinary/apk"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/models"
	"github.com/huanfeng/adbkit/pkg/receiver"
)

// TempInstallDir is where local packages are staged before pm install
const TempInstallDir = "/data/local/tmp"

// InstallOptions contains install options
type InstallOptions struct {
	Replace          bool // Replace existing app
	Downgrade        bool // Allow version downgrade
	GrantPermissions bool // Grant all runtime permissions
}

func (o InstallOptions) flags() string {
	var b strings.Builder
	if o.Replace {
		b.WriteString(" -r")
	}
	if o.Downgrade {
		b.WriteString(" -d")
	}
	if o.GrantPermissions {
		b.WriteString(" -g")
	}
	return b.String()
}

// InstallResult represents the result of an installation
type InstallResult struct {
	Success     bool          `json:"success"`
	PackageID   string        `json:"package_id,omitempty"`
	Serial      string        `json:"serial"`
	RemotePath  string        `json:"remote_path,omitempty"`
	Duration    time.Duration `json:"duration"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Message     string        `json:"message,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// PackageManager installs, removes and inspects packages with pm
type PackageManager struct {
	device *Device
}

// Packages returns pm list packages -f
func (pm *PackageManager) Packages(ctx context.Context) ([]models.InstalledPackage, error) {
	rcv := receiver.NewPackageManagerReceiver(receiver.WithLogger(pm.device.logger))
	if err := pm.device.ExecuteShellCommand(ctx, rcv, "pm list packages -f"); err != nil {
		return nil, err
	}
	return rcv.Packages(), nil
}

// InstallPackage pushes a local APK to the temp directory, installs it and removes the copy
func (pm *PackageManager) InstallPackage(ctx context.Context, local string, opts InstallOptions, progress func(int64)) (*InstallResult, error) {
	start := time.Now()
	if !strings.EqualFold(filepath.Ext(local), ".apk") {
		return nil, adberrors.NewPackageInstallationError("INVALID_APK", "not an APK file: "+local).
			WithSuggestion("Only single .apk files can be installed")
	}

	remote := path.Join(TempInstallDir, filepath.Base(local))
	if _, err := pm.device.PushFile(ctx, local, remote, progress); err != nil {
		return nil, err
	}
	defer func() {
		if err := pm.RemoveRemotePackage(context.WithoutCancel(ctx), remote); err != nil {
			pm.device.logger.Warn("failed to remove %s: %v", remote, err)
		}
	}()

	result, err := pm.InstallRemotePackage(ctx, remote, opts)
	if result != nil {
		result.Duration = time.Since(start)
	}
	return result, err
}

// InstallRemotePackage installs an APK that is already on the device
func (pm *PackageManager) InstallRemotePackage(ctx context.Context, remote string, opts InstallOptions) (*InstallResult, error) {
	start := time.Now()
	rcv := receiver.NewInstallReceiver(receiver.WithLogger(pm.device.logger))
	command := "pm install" + opts.flags() + " " + models.EscapeShellPath(remote)
	if err := pm.device.ExecuteShellCommand(ctx, rcv, command); err != nil {
		return nil, err
	}

	result := &InstallResult{
		Serial:     pm.device.Serial(),
		RemotePath: remote,
		Duration:   time.Since(start),
	}
	if rcv.Success() {
		result.Success = true
		return result, nil
	}

	result.ErrorCode, result.Message, result.Suggestions = ParseInstallFailure(rcv.ErrorMessage())
	return result, adberrors.NewPackageInstallationError(result.ErrorCode, result.Message).
		WithContext("serial", pm.device.Serial()).
		WithContext("package", remote).
		WithSuggestions(result.Suggestions)
}

// RemoveRemotePackage deletes a staged APK
func (pm *PackageManager) RemoveRemotePackage(ctx context.Context, remote string) error {
	return pm.device.ExecuteShellCommand(ctx, nil, "rm -f %s", models.EscapeShellPath(remote))
}

// UninstallPackage removes a package; keepData keeps its data and cache directories
func (pm *PackageManager) UninstallPackage(ctx context.Context, packageName string, keepData bool) error {
	rcv := receiver.NewInstallReceiver(receiver.WithLogger(pm.device.logger))
	command := "pm uninstall "
	if keepData {
		command += "-k "
	}
	if err := pm.device.ExecuteShellCommand(ctx, rcv, command+packageName); err != nil {
		return err
	}
	if rcv.Success() {
		return nil
	}
	msg := rcv.ErrorMessage()
	code := "UNINSTALL_FAILED"
	if m := failureCodePattern.FindString(strings.ToUpper(msg)); m != "" {
		code = m
	}
	return adberrors.NewPackageInstallationError(code, fmt.Sprintf("uninstall of %s failed: %s", packageName, msg)).
		WithContext("serial", pm.device.Serial()).
		WithContext("package", packageName)
}

// InstalledVersion reads the version of an installed package from dumpsys package
func (pm *PackageManager) InstalledVersion(ctx context.Context, packageName string) (models.PackageVersion, error) {
	lines := receiver.NewLinesReceiver(receiver.WithLogger(pm.device.logger))
	if err := pm.device.ExecuteShellCommand(ctx, lines, "dumpsys package %s", packageName); err != nil {
		return models.PackageVersion{}, err
	}
	v := ParseDumpsysPackage(lines.Lines())
	if v.VersionName == "" && v.VersionCode == 0 {
		return v, adberrors.NewError(adberrors.KindFileNotFound, "PACKAGE",
			"package not found or not installed: "+packageName).WithContext("package", packageName)
	}
	v.PackageName = packageName
	return v, nil
}

var dumpsysField = regexp.MustCompile(`(versionCode|minSdk|targetSdk)=(\d+)`)

// ParseDumpsysPackage extracts the first version block of dumpsys package output
func ParseDumpsysPackage(lines []string) models.PackageVersion {
	var v models.PackageVersion
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "versionName="); ok {
			if v.VersionName == "" {
				v.VersionName = name
			}
			continue
		}
		if !strings.HasPrefix(line, "versionCode=") || v.VersionCode != 0 {
			continue
		}
		for _, m := range dumpsysField.FindAllStringSubmatch(line, -1) {
			n, _ := strconv.ParseInt(m[2], 10, 64)
			switch m[1] {
			case "versionCode":
				v.VersionCode = n
			case "minSdk":
				v.MinSDK = int(n)
			case "targetSdk":
				v.TargetSDK = int(n)
			}
		}
	}
	return v
}

var failureCodePattern = regexp.MustCompile(`(INSTALL_FAILED|INSTALL_PARSE_FAILED|DELETE_FAILED)_[A-Z_]+`)

var installFailures = []struct {
	pattern     string
	code        string
	message     string
	suggestions []string
}{
	{"INSTALL_FAILED_ALREADY_EXISTS", "ALREADY_EXISTS", "App already installed", []string{
		"Use --replace flag to reinstall",
		"Uninstall the existing app first",
	}},
	{"INSTALL_FAILED_VERSION_DOWNGRADE", "VERSION_DOWNGRADE", "Cannot downgrade app version", []string{
		"Use --downgrade flag to force downgrade",
		"Uninstall the existing app first",
		"Install a newer version instead",
	}},
	{"INSTALL_FAILED_INSUFFICIENT_STORAGE", "INSUFFICIENT_STORAGE", "Not enough storage space on device", []string{
		"Free up storage space on the device",
		"Clear app caches and data",
	}},
	{"INSTALL_FAILED_INVALID_APK", "INVALID_APK", "APK file is invalid or corrupted", []string{
		"Re-download the APK file",
		"Check if APK is compatible with device architecture",
	}},
	{"INSTALL_PARSE_FAILED", "INVALID_APK", "APK file could not be parsed", []string{
		"Re-download the APK file",
		"Verify APK file integrity",
	}},
	{"INSTALL_FAILED_OLDER_SDK", "INCOMPATIBLE_SDK", "APK requires higher Android version", []string{
		"Find a version compatible with your Android version",
	}},
	{"INSTALL_FAILED_INCOMPATIBLE_SDK", "INCOMPATIBLE_SDK", "APK requires higher Android version", []string{
		"Find a version compatible with your Android version",
	}},
	{"INSTALL_FAILED_UPDATE_INCOMPATIBLE", "UPDATE_INCOMPATIBLE", "Installed app is signed with a different key", []string{
		"Uninstall the existing app first",
	}},
	{"INSTALL_FAILED_MISSING_SHARED_LIBRARY", "MISSING_LIBRARY", "Required shared library not found", []string{
		"Check device compatibility",
	}},
	{"INSTALL_FAILED_NO_MATCHING_ABIS", "NO_MATCHING_ABIS", "APK architecture not compatible with device", []string{
		"Download APK for correct architecture (ARM, x86, etc.)",
		"Use universal APK if available",
	}},
	{"INSTALL_FAILED_PERMISSION_MODEL", "PERMISSION_MODEL", "Permission model incompatibility", []string{
		"Use --grant flag to grant permissions automatically",
	}},
}

// ParseInstallFailure maps pm output to an error code, message and suggestions
func ParseInstallFailure(output string) (code, message string, suggestions []string) {
	upper := strings.ToUpper(output)
	for _, f := range installFailures {
		if strings.Contains(upper, f.pattern) {
			return f.code, f.message, f.suggestions
		}
	}

	if m := regexp.MustCompile(`INSTALL_FAILED_([A-Z_]+)`).FindStringSubmatch(upper); m != nil {
		return m[1], "Installation failed: " + m[1], []string{
			"Check device logs for more details",
			"Verify APK compatibility with device",
		}
	}

	return "UNKNOWN", "Unknown installation error: " + strings.TrimSpace(output), []string{
		"Verify APK file is valid",
		"Check device logs for more information",
	}
}

// ReadApkInfo reads the manifest of a local APK
func ReadApkInfo(local string) (models.ApkInfo, error) {
	fi, err := os.Stat(local)
	if err != nil {
		return models.ApkInfo{}, adberrors.NewIOError(err, "stat "+local)
	}
	pkg, err := apk.OpenFile(local)
	if err != nil {
		return models.ApkInfo{}, adberrors.WrapError(err, adberrors.KindPackageInstallation, "INVALID_APK",
			"cannot read APK manifest").WithContext("path", local)
	}
	defer pkg.Close()

	manifest := pkg.Manifest()
	info := models.ApkInfo{
		PackageName: manifest.Package.MustString(),
		VersionName: manifest.VersionName.MustString(),
		VersionCode: int64(manifest.VersionCode.MustInt32()),
		Size:        fi.Size(),
	}
	if label, err := manifest.App.Label.String(); err == nil {
		info.Label = label
	}
	if n, err := manifest.SDK.Min.Int32(); err == nil {
		info.MinSDK = int(n)
	}
	if n, err := manifest.SDK.Target.Int32(); err == nil {
		info.TargetSDK = int(n)
	}
	return info, nil
}
