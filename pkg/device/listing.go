package device

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/models"
	"github.com/huanfeng/adbkit/pkg/receiver"
)

const listingQueueSize = 32

type listRequest struct {
	ctx    context.Context
	entry  *models.FileEntry
	result chan listResult
}

type listResult struct {
	children []*models.FileEntry
	err      error
}

// FileListingService keeps a lazily filled tree of the device file system.
// Listings run one at a time on a single worker so at most one ls is in
// flight per device; results are cached for the refresh rate.
type FileListingService struct {
	device  *Device
	root    *models.FileEntry
	busybox bool
	refresh time.Duration
	cache   *cache.Cache
	now     func() time.Time

	queue     chan listRequest
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFileListingService starts the listing worker for d
func NewFileListingService(d *Device, refresh time.Duration, busybox bool) *FileListingService {
	if refresh <= 0 {
		refresh = DefaultRefreshRate
	}
	s := &FileListingService{
		device:  d,
		root:    models.NewRootEntry(),
		busybox: busybox,
		refresh: refresh,
		cache:   cache.New(refresh, -1),
		now:     time.Now,
		queue:   make(chan listRequest, listingQueueSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Root returns the "/" entry
func (s *FileListingService) Root() *models.FileEntry {
	return s.root
}

func (s *FileListingService) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.queue:
			children, err := s.fetch(req.ctx, req.entry)
			req.result <- listResult{children: children, err: err}
		}
	}
}

// Children returns the entries of a directory. Cached children younger than
// the refresh rate are returned without running ls when useCache is set.
func (s *FileListingService) Children(ctx context.Context, entry *models.FileEntry, useCache bool) ([]*models.FileEntry, error) {
	if entry == nil {
		entry = s.root
	}
	if useCache {
		if v, ok := s.cache.Get(entry.FullPath()); ok {
			return v.([]*models.FileEntry), nil
		}
	}

	req := listRequest{ctx: ctx, entry: entry, result: make(chan listResult, 1)}
	select {
	case s.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errListingClosed()
	}

	select {
	case res := <-req.result:
		return res.children, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errListingClosed()
	}
}

// ChildrenAsync lists entry in the background and hands the result to fn
func (s *FileListingService) ChildrenAsync(entry *models.FileEntry, fn func([]*models.FileEntry, error)) {
	go func() {
		fn(s.Children(context.Background(), entry, true))
	}()
}

func (s *FileListingService) fetch(ctx context.Context, entry *models.FileEntry) ([]*models.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := entry.ResolvedPath()
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	command := "ls -l " + models.EscapeShellPath(dir)
	if s.busybox {
		command = "busybox ls -lFa " + models.EscapeShellPath(dir)
	}

	rcv := receiver.NewListingReceiver(entry, s.busybox, receiver.WithLogger(s.device.logger))
	if err := s.device.ExecuteShellCommand(ctx, rcv, command); err != nil {
		return nil, err
	}

	// toolbox ls does not say whether a link points at a directory
	for _, link := range rcv.Links() {
		out, err := s.device.Output(ctx, "ls -l -d %s", models.EscapeShellPath(link.FullPath()+"/"))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(out), "d") {
			link.Type = models.FileTypeDirectoryLink
		}
	}

	children := rcv.Entries()
	entry.SetChildren(children, s.now())
	s.cache.Set(entry.FullPath(), children, cache.DefaultExpiration)
	return children, nil
}

// FindEntry walks from the root to an absolute path
func (s *FileListingService) FindEntry(ctx context.Context, p string) (*models.FileEntry, error) {
	p = path.Clean("/" + p)
	entry := s.root
	if p == "/" {
		return entry, nil
	}
	for _, name := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if _, err := s.Children(ctx, entry, true); err != nil {
			return nil, err
		}
		child := entry.FindChild(name)
		if child == nil {
			return nil, adberrors.NewError(adberrors.KindFileNotFound, "LISTING",
				"no such file or directory: "+p).WithContext("path", p)
		}
		entry = child
	}
	return entry, nil
}

// ResolveLink returns the target of the link at p, or p itself if it is not a link
func (s *FileListingService) ResolveLink(ctx context.Context, p string) (string, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return p, nil
	}
	rcv := receiver.NewLinkResolverReceiver(receiver.WithLogger(s.device.logger))
	if err := s.device.ExecuteShellCommand(ctx, rcv, "ls -l %s", models.EscapeShellPath(path.Dir(p))); err != nil {
		return "", err
	}
	target, ok := rcv.Resolve(path.Base(p))
	if !ok {
		return p, nil
	}
	if !path.IsAbs(target) {
		target = path.Join(path.Dir(p), target)
	}
	return target, nil
}

// Invalidate drops the cached listing of entry
func (s *FileListingService) Invalidate(entry *models.FileEntry) {
	s.cache.Delete(entry.FullPath())
}

// Close stops the worker; pending requests fail
func (s *FileListingService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func errListingClosed() error {
	return adberrors.NewError(adberrors.KindIO, "CLOSED", "file listing service is closed")
}
