package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileEntryPaths(t *testing.T) {
	root := NewRootEntry()
	system := NewFileEntry(root, "system", FileTypeDirectory)
	root.AddChild(system)
	vendor := NewFileEntry(root, "vendor", FileTypeLink)
	vendor.LinkTarget = "/system/vendor"
	root.AddChild(vendor)
	rel := NewFileEntry(system, "lib", FileTypeLink)
	rel.LinkTarget = "../lib64"

	assert.Equal(t, "/", root.FullPath())
	assert.Equal(t, "/system", system.FullPath())
	assert.Equal(t, "/system/vendor", vendor.ResolvedPath())
	assert.Equal(t, "/lib64", rel.ResolvedPath())
	assert.Same(t, system, root.FindChild("system"))
	assert.Nil(t, root.FindChild("missing"))
}

func TestFileEntryNeedsFetch(t *testing.T) {
	e := NewRootEntry()
	now := time.Now()
	assert.True(t, e.NeedsFetch(now, 5*time.Second))

	e.SetChildren(nil, now)
	assert.False(t, e.NeedsFetch(now.Add(time.Second), 5*time.Second))
	assert.True(t, e.NeedsFetch(now.Add(5*time.Second), 5*time.Second))
}

func TestFileTypeFromPermissions(t *testing.T) {
	assert.Equal(t, FileTypeDirectory, FileTypeFromPermissions("drwxr-xr-x"))
	assert.Equal(t, FileTypeLink, FileTypeFromPermissions("lrwxrwxrwx"))
	assert.Equal(t, FileTypeFIFO, FileTypeFromPermissions("prw-------"))
	assert.Equal(t, FileTypeOther, FileTypeFromPermissions(""))
}

func TestEscapeShellPath(t *testing.T) {
	assert.Equal(t, `'/sdcard/it'\''s here'`, EscapeShellPath("/sdcard/it's here"))
}
