package device

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/client"
	"github.com/huanfeng/adbkit/pkg/models"
)

// TransferResult summarises a multi-file transfer. A canceled transfer is
// not an error; files already copied stay where they are.
type TransferResult struct {
	Files    int   `json:"files"`
	Dirs     int   `json:"dirs"`
	Bytes    int64 `json:"bytes"`
	Total    int64 `json:"total"`
	Canceled bool  `json:"canceled"`
}

type transferItem struct {
	remote string
	local  string
	dir    bool
	size   int64
}

// transferWeight is the progress total: bytes of every file plus one per directory
func transferWeight(items []transferItem) int64 {
	var total int64
	for _, it := range items {
		if it.dir {
			total++
		} else {
			total += it.size
		}
	}
	return total
}

// PullTree copies the remote file or directory into localDir, depth first.
// The progress total is computed by listing the whole tree first.
func (d *Device) PullTree(ctx context.Context, remote, localDir string, monitor client.SyncProgressMonitor) (TransferResult, error) {
	if monitor == nil {
		monitor = client.NullProgressMonitor{}
	}
	listing := d.FileListingService()
	entry, err := listing.FindEntry(ctx, remote)
	if err != nil {
		return TransferResult{}, err
	}

	var items []transferItem
	if err := d.planPull(ctx, listing, entry, filepath.Join(localDir, entryName(entry)), true, &items); err != nil {
		return TransferResult{}, err
	}

	s, err := d.Sync(ctx)
	if err != nil {
		return TransferResult{}, err
	}
	defer s.Close()

	return runTransfer(ctx, items, monitor, func(ctx context.Context, it transferItem, progress client.ProgressFunc) (int64, error) {
		if it.dir {
			return 0, mkdirLocal(it.local)
		}
		if err := mkdirLocal(filepath.Dir(it.local)); err != nil {
			return 0, err
		}
		return s.PullFile(ctx, it.remote, it.local, progress)
	})
}

func entryName(e *models.FileEntry) string {
	if e.IsRoot() {
		return "root"
	}
	return e.Name
}

func (d *Device) planPull(ctx context.Context, listing *FileListingService, entry *models.FileEntry, local string, top bool, items *[]transferItem) error {
	switch {
	case entry.Type == models.FileTypeDirectory || (top && entry.IsDirectory()):
	case entry.Type == models.FileTypeDirectoryLink:
		d.logger.Debug("pull: not following directory link %s", entry.FullPath())
		return nil
	case entry.Type == models.FileTypeFile || entry.Type == models.FileTypeLink:
		*items = append(*items, transferItem{remote: entry.FullPath(), local: local, size: entry.Size})
		return nil
	default:
		d.logger.Debug("pull: skipping %s (%s)", entry.FullPath(), entry.Type)
		return nil
	}

	*items = append(*items, transferItem{remote: entry.FullPath(), local: local, dir: true})
	children, err := listing.Children(ctx, entry, true)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := d.planPull(ctx, listing, child, filepath.Join(local, child.Name), false, items); err != nil {
			return err
		}
	}
	return nil
}

// PushTree copies a local file or directory into remoteDir, depth first
func (d *Device) PushTree(ctx context.Context, local, remoteDir string, monitor client.SyncProgressMonitor) (TransferResult, error) {
	if monitor == nil {
		monitor = client.NullProgressMonitor{}
	}
	base := filepath.Dir(local)
	var items []transferItem
	err := filepath.WalkDir(local, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		item := transferItem{local: p, remote: path.Join(remoteDir, filepath.ToSlash(rel))}
		switch {
		case de.IsDir():
			item.dir = true
		case de.Type().IsRegular():
			info, err := de.Info()
			if err != nil {
				return err
			}
			item.size = info.Size()
		default:
			d.logger.Debug("push: skipping %s", p)
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return TransferResult{}, adberrors.NewIOError(err, "walk "+local)
	}

	s, err := d.Sync(ctx)
	if err != nil {
		return TransferResult{}, err
	}
	defer s.Close()

	return runTransfer(ctx, items, monitor, func(ctx context.Context, it transferItem, progress client.ProgressFunc) (int64, error) {
		if it.dir {
			return 0, d.ExecuteShellCommand(ctx, nil, "mkdir -p %s", models.EscapeShellPath(it.remote))
		}
		return s.PushFile(ctx, it.local, it.remote, progress)
	})
}

type transferFunc func(ctx context.Context, it transferItem, progress client.ProgressFunc) (int64, error)

// runTransfer drives items through fn, reporting to monitor and stopping
// between files or chunks once the monitor is canceled.
func runTransfer(ctx context.Context, items []transferItem, monitor client.SyncProgressMonitor, fn transferFunc) (TransferResult, error) {
	result := TransferResult{Total: transferWeight(items)}
	monitor.Start(result.Total)
	defer monitor.Stop()

	for _, it := range items {
		if monitor.IsCanceled() {
			result.Canceled = true
			return result, nil
		}
		if it.dir {
			if _, err := fn(ctx, it, nil); err != nil {
				return result, err
			}
			result.Dirs++
			monitor.Advance(1)
			continue
		}

		monitor.StartSubTask(it.remote)
		if monitor.IsCanceled() {
			result.Canceled = true
			return result, nil
		}
		fileCtx, cancel := context.WithCancel(ctx)
		var reported int64
		n, err := fn(fileCtx, it, func(done int64) {
			monitor.Advance(done - reported)
			reported = done
			if monitor.IsCanceled() {
				cancel()
			}
		})
		canceledMidFile := fileCtx.Err() != nil && ctx.Err() == nil
		cancel()
		result.Bytes += n
		if canceledMidFile && errors.Is(err, context.Canceled) {
			result.Canceled = true
			return result, nil
		}
		if err != nil {
			return result, err
		}
		result.Files++
	}
	return result, nil
}

func mkdirLocal(p string) error {
	if err := os.MkdirAll(p, 0o755); err != nil {
		return adberrors.NewIOError(err, "mkdir "+p)
	}
	return nil
}
