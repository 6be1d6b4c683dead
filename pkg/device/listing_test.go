package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/models"
)

const rootListing = `drwxr-xr-x root     root              2023-01-01 12:00 storage
lrwxrwxrwx root     root              2023-01-01 12:00 sdcard -> /storage/self/primary
lrwxrwxrwx root     root              2023-01-01 12:00 init -> /system/bin/init
-rw-r--r-- root     root          597 2023-01-02 13:04 default.prop
`

func TestListingChildren(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("ls -l '/'", rootListing)
	srv.HandleShell("ls -l -d '/sdcard/'", "drwxrwx--x root sdcard_rw 2023-01-01 12:00 /sdcard/\n")
	srv.FailShell("ls -l -d '/init/'", "ls: /init/: Not a directory")
	ctx := context.Background()

	s := d.FileListingService()
	children, err := s.Children(ctx, s.Root(), true)
	require.NoError(t, err)
	require.Len(t, children, 4)

	byName := map[string]*models.FileEntry{}
	for _, c := range children {
		byName[c.Name] = c
	}
	assert.Equal(t, models.FileTypeDirectory, byName["storage"].Type)
	assert.Equal(t, models.FileTypeDirectoryLink, byName["sdcard"].Type)
	assert.Equal(t, "/storage/self/primary", byName["sdcard"].LinkTarget)
	assert.Equal(t, models.FileTypeLink, byName["init"].Type)
	assert.Equal(t, int64(597), byName["default.prop"].Size)
	assert.Equal(t, "/default.prop", byName["default.prop"].FullPath())
	assert.Equal(t, children, s.Root().Children())

	// served from the cache
	_, err = s.Children(ctx, s.Root(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, countRequests(srv, "shell:ls -l '/'"))

	// forced refresh keeps entry identity
	again, err := s.Children(ctx, s.Root(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, countRequests(srv, "shell:ls -l '/'"))
	assert.Same(t, byName["storage"], s.Root().FindChild("storage"))
	assert.Len(t, again, 4)
}

func TestListingCacheExpires(t *testing.T) {
	d, srv := newTestDevice(t, WithRefreshRate(50*time.Millisecond))
	srv.HandleShell("ls -l '/'", rootListing)
	ctx := context.Background()

	s := d.FileListingService()
	_, err := s.Children(ctx, nil, true)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, err = s.Children(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 2, countRequests(srv, "shell:ls -l '/'"))
}

func TestListingFindEntry(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("ls -l '/'", rootListing)
	srv.HandleShell("ls -l '/storage/'", "drwxr-xr-x root root 2023-01-01 12:00 emulated\n")
	ctx := context.Background()

	s := d.FileListingService()
	e, err := s.FindEntry(ctx, "/storage/emulated")
	require.NoError(t, err)
	assert.Equal(t, "/storage/emulated", e.FullPath())
	assert.True(t, e.IsDirectory())

	root, err := s.FindEntry(ctx, "/")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	_, err = s.FindEntry(ctx, "/storage/missing")
	assert.True(t, errors.Is(err, adberrors.ErrFileNotFound))
}

func TestListingResolveLink(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("ls -l '/'", rootListing)
	ctx := context.Background()

	s := d.FileListingService()
	target, err := s.ResolveLink(ctx, "/sdcard")
	require.NoError(t, err)
	assert.Equal(t, "/storage/self/primary", target)

	target, err = s.ResolveLink(ctx, "/storage")
	require.NoError(t, err)
	assert.Equal(t, "/storage", target)
}

func TestListingBusyBox(t *testing.T) {
	d, srv := newTestDevice(t, WithBusyBoxListing(true))
	srv.HandleShell("busybox ls -lFa '/'", `drwxr-xr-x   12 root     root             0 Jan  1  2023 ./
drwxr-xr-x   12 root     root             0 Jan  1  2023 ../
drwxrwx--x    2 root     sdcard_rw     4096 Mar  4  2022 DCIM/
lrwxrwxrwx    1 root     root            14 Mar  4  2022 pics -> /sdcard/DCIM/
`)
	s := d.FileListingService()
	children, err := s.Children(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "DCIM", children[0].Name)
	assert.Equal(t, models.FileTypeDirectoryLink, children[1].Type)
}

func TestListingOneAtATime(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("ls -l '/'", rootListing)
	s := d.FileListingService()

	var wg sync.WaitGroup
	results := make(chan []*models.FileEntry, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		s.ChildrenAsync(s.Root(), func(children []*models.FileEntry, err error) {
			defer wg.Done()
			assert.NoError(t, err)
			results <- children
		})
	}
	wg.Wait()
	close(results)
	for r := range results {
		assert.Len(t, r, 4)
	}
}

func TestListingClosed(t *testing.T) {
	d, _ := newTestDevice(t)
	s := d.FileListingService()
	s.Close()
	s.Close()

	_, err := s.Children(context.Background(), nil, false)
	require.Error(t, err)
	assert.Equal(t, "CLOSED", err.(*adberrors.AdbError).Code)
}
