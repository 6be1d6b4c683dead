package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/models"
)

func TestPackages(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("pm list packages -f", "package:/system/app/Calendar/Calendar.apk=com.android.calendar\n"+
		"package:/data/app/~~Zk==/com.example-1/base.apk=com.example\n")

	pkgs, err := d.PackageManager().Packages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.InstalledPackage{
		{Name: "com.android.calendar", Path: "/system/app/Calendar/Calendar.apk"},
		{Name: "com.example", Path: "/data/app/~~Zk==/com.example-1/base.apk"},
	}, pkgs)
}

func TestInstallPackage(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("pm install -r -g '/data/local/tmp/app.apk'", "Performing Streamed Install\nSuccess\n")
	srv.HandleShell("rm -f '/data/local/tmp/app.apk'", "")

	local := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(local, []byte("PK\x03\x04fake"), 0o644))

	res, err := d.PackageManager().InstallPackage(context.Background(), local, InstallOptions{Replace: true, GrantPermissions: true}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "/data/local/tmp/app.apk", res.RemotePath)

	f, ok := srv.File("/data/local/tmp/app.apk")
	require.True(t, ok)
	assert.Equal(t, "PK\x03\x04fake", string(f.Data))
	assert.Contains(t, srv.Requests(), "shell:rm -f '/data/local/tmp/app.apk'")
}

func TestInstallPackageFailure(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("pm install '/data/local/tmp/old.apk'", "Failure [INSTALL_FAILED_VERSION_DOWNGRADE: Downgrade detected]\n")

	res, err := d.PackageManager().InstallRemotePackage(context.Background(), "/data/local/tmp/old.apk", InstallOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, adberrors.ErrPackageInstallation))
	assert.Equal(t, "VERSION_DOWNGRADE", res.ErrorCode)
	assert.False(t, res.Success)
	assert.Contains(t, res.Suggestions, "Use --downgrade flag to force downgrade")

	var adbErr *adberrors.AdbError
	require.True(t, errors.As(err, &adbErr))
	assert.Equal(t, "VERSION_DOWNGRADE", adbErr.Code)
	assert.NotEmpty(t, adbErr.Suggestions)
}

func TestInstallPackageRejectsNonApk(t *testing.T) {
	d, _ := newTestDevice(t)
	_, err := d.PackageManager().InstallPackage(context.Background(), "bundle.xapk", InstallOptions{}, nil)
	assert.True(t, errors.Is(err, adberrors.ErrPackageInstallation))
}

func TestUninstallPackage(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("pm uninstall com.example", "Success\n")
	srv.HandleShell("pm uninstall -k com.missing", "Failure [DELETE_FAILED_INTERNAL_ERROR]\n")
	pm := d.PackageManager()
	ctx := context.Background()

	require.NoError(t, pm.UninstallPackage(ctx, "com.example", false))

	err := pm.UninstallPackage(ctx, "com.missing", true)
	var adbErr *adberrors.AdbError
	require.True(t, errors.As(err, &adbErr))
	assert.Equal(t, adberrors.KindPackageInstallation, adbErr.Kind)
	assert.Equal(t, "DELETE_FAILED_INTERNAL_ERROR", adbErr.Code)
}

func TestInstalledVersion(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("dumpsys package com.example", `Packages:
  Package [com.example] (c0ffee):
    userId=10123
    versionCode=42 minSdk=24 targetSdk=34
    versionName=1.4.2
    splits=[base]
`)
	srv.HandleShell("dumpsys package com.none", "Unable to find package: com.none\n")
	pm := d.PackageManager()
	ctx := context.Background()

	v, err := pm.InstalledVersion(ctx, "com.example")
	require.NoError(t, err)
	assert.Equal(t, models.PackageVersion{PackageName: "com.example", VersionName: "1.4.2", VersionCode: 42, MinSDK: 24, TargetSDK: 34}, v)

	_, err = pm.InstalledVersion(ctx, "com.none")
	assert.True(t, errors.Is(err, adberrors.ErrFileNotFound))
}

func TestParseInstallFailure(t *testing.T) {
	tests := []struct {
		output string
		code   string
	}{
		{"INSTALL_FAILED_ALREADY_EXISTS", "ALREADY_EXISTS"},
		{"install_failed_insufficient_storage", "INSUFFICIENT_STORAGE"},
		{"INSTALL_PARSE_FAILED_NOT_APK: bad", "INVALID_APK"},
		{"INSTALL_FAILED_USER_RESTRICTED: Install canceled by user", "USER_RESTRICTED"},
		{"something odd", "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			code, msg, suggestions := ParseInstallFailure(tt.output)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, msg)
			assert.NotEmpty(t, suggestions)
		})
	}
}

func TestReadApkInfoInvalid(t *testing.T) {
	local := filepath.Join(t.TempDir(), "broken.apk")
	require.NoError(t, os.WriteFile(local, []byte("not a zip"), 0o644))

	_, err := ReadApkInfo(local)
	assert.True(t, errors.Is(err, adberrors.ErrPackageInstallation))

	_, err = ReadApkInfo(filepath.Join(t.TempDir(), "missing.apk"))
	assert.True(t, errors.Is(err, adberrors.ErrIO))
}
