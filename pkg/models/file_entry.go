package models

import (
	"path"
	"strings"
	"sync"
	"time"
)

// FileType is the kind of a remote file system node
type FileType int

const (
	FileTypeFile FileType = iota
	FileTypeDirectory
	FileTypeDirectoryLink
	FileTypeBlock
	FileTypeCharacter
	FileTypeLink
	FileTypeSocket
	FileTypeFIFO
	FileTypeOther
)

// String returns the string representation of the file type
func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	case FileTypeDirectoryLink:
		return "directory-link"
	case FileTypeBlock:
		return "block"
	case FileTypeCharacter:
		return "character"
	case FileTypeLink:
		return "link"
	case FileTypeSocket:
		return "socket"
	case FileTypeFIFO:
		return "fifo"
	default:
		return "other"
	}
}

// FileTypeFromPermissions maps the first character of an ls permission string.
func FileTypeFromPermissions(perms string) FileType {
	if perms == "" {
		return FileTypeOther
	}
	switch perms[0] {
	case '-':
		return FileTypeFile
	case 'd':
		return FileTypeDirectory
	case 'l':
		return FileTypeLink
	case 'b':
		return FileTypeBlock
	case 'c':
		return FileTypeCharacter
	case 's':
		return FileTypeSocket
	case 'p':
		return FileTypeFIFO
	default:
		return FileTypeOther
	}
}

// FileEntry is one node of a remote directory tree. The full path is derived
// from the parent chain; children are populated lazily by a listing service.
type FileEntry struct {
	Name        string    `json:"name"`
	Type        FileType  `json:"type"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Permissions string    `json:"permissions"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group"`
	LinkTarget  string    `json:"link_target,omitempty"`
	Info        string    `json:"info,omitempty"`

	parent    *FileEntry
	mu        sync.RWMutex
	children  []*FileEntry
	fetchTime time.Time
	root      bool
}

// NewRootEntry creates the "/" node
func NewRootEntry() *FileEntry {
	return &FileEntry{Name: "", Type: FileTypeDirectory, root: true}
}

// NewFileEntry creates a child node of parent; it is not attached until AddChild.
func NewFileEntry(parent *FileEntry, name string, t FileType) *FileEntry {
	return &FileEntry{Name: name, Type: t, parent: parent}
}

// Parent returns the parent node, nil for the root
func (e *FileEntry) Parent() *FileEntry {
	return e.parent
}

// IsRoot reports whether e is the tree root
func (e *FileEntry) IsRoot() bool {
	return e.root
}

// FullPath returns the absolute remote path
func (e *FileEntry) FullPath() string {
	if e.root || e.parent == nil {
		if e.Name == "" {
			return "/"
		}
		return "/" + strings.TrimPrefix(e.Name, "/")
	}
	return path.Join(e.parent.FullPath(), e.Name)
}

// FullEscapedPath returns FullPath quoted for a device shell
func (e *FileEntry) FullEscapedPath() string {
	return EscapeShellPath(e.FullPath())
}

// ResolvedPath returns the link target for links, otherwise the full path
func (e *FileEntry) ResolvedPath() string {
	if e.IsLink() && e.LinkTarget != "" {
		if path.IsAbs(e.LinkTarget) {
			return e.LinkTarget
		}
		return path.Join(path.Dir(e.FullPath()), e.LinkTarget)
	}
	return e.FullPath()
}

// IsDirectory reports whether the entry can be listed
func (e *FileEntry) IsDirectory() bool {
	return e.Type == FileTypeDirectory || e.Type == FileTypeDirectoryLink
}

// IsLink reports whether the entry is a symlink
func (e *FileEntry) IsLink() bool {
	return e.Type == FileTypeLink || e.Type == FileTypeDirectoryLink
}

// IsApplicationPackage reports whether the name ends in .apk
func (e *FileEntry) IsApplicationPackage() bool {
	return !e.IsDirectory() && strings.HasSuffix(strings.ToLower(e.Name), ".apk")
}

// Children returns a copy of the cached children
func (e *FileEntry) Children() []*FileEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*FileEntry, len(e.children))
	copy(out, e.children)
	return out
}

// SetChildren replaces the children and records the fetch time
func (e *FileEntry) SetChildren(children []*FileEntry, at time.Time) {
	for _, c := range children {
		c.parent = e
	}
	e.mu.Lock()
	e.children = children
	e.fetchTime = at
	e.mu.Unlock()
}

// AddChild appends a child
func (e *FileEntry) AddChild(child *FileEntry) {
	child.parent = e
	e.mu.Lock()
	e.children = append(e.children, child)
	e.mu.Unlock()
}

// FindChild returns the child with the given name
func (e *FileEntry) FindChild(name string) *FileEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FetchTime returns when children were last listed
func (e *FileEntry) FetchTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fetchTime
}

// NeedsFetch reports whether the cached children are older than refresh
func (e *FileEntry) NeedsFetch(now time.Time, refresh time.Duration) bool {
	t := e.FetchTime()
	return t.IsZero() || now.Sub(t) >= refresh
}

// EscapeShellPath single-quotes p for the device shell
func EscapeShellPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
