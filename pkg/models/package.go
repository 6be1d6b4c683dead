package models

// InstalledPackage is one line of pm list packages -f
type InstalledPackage struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// PackageVersion is the version block of dumpsys package
type PackageVersion struct {
	PackageName string `json:"package_name"`
	VersionName string `json:"version_name"`
	VersionCode int64  `json:"version_code"`
	MinSDK      int    `json:"min_sdk,omitempty"`
	TargetSDK   int    `json:"target_sdk,omitempty"`
}

// ApkInfo is what is read from a local APK before installing it
type ApkInfo struct {
	PackageName string `json:"package_name"`
	VersionName string `json:"version_name"`
	VersionCode int64  `json:"version_code"`
	Label       string `json:"label,omitempty"`
	MinSDK      int    `json:"min_sdk,omitempty"`
	TargetSDK   int    `json:"target_sdk,omitempty"`
	Size        int64  `json:"size"`
}
