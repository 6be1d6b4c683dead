package receiver

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huanfeng/adbkit/pkg/models"
)

const permPattern = `([bcdlsp-][-r][-w][-xsS][-r][-w][-xsS][-r][-w][-xstST])`

var (
	// toolbox/toybox: perms [links] owner group size yyyy-mm-dd hh:mm name
	isoListingPattern = regexp.MustCompile(`^` + permPattern +
		`\s+(?:\d+\s+)?(\S+)\s+(\S+)\s+([\d\s,]*?)\s*(\d{4}-\d\d-\d\d)\s+(\d\d:\d\d)\s+(.*)$`)
	// busybox: perms links owner group size Mon dd hh:mm|yyyy name
	busyboxListingPattern = regexp.MustCompile(`^` + permPattern +
		`\s+\d+\s+(\S+)\s+(\S+)\s+([\d\s,]*?)\s*([A-Z][a-z]{2}\s+\d{1,2}\s+(?:\d\d:\d\d|\d{4}))\s+(.*)$`)
)

// ListingReceiver parses ls -l (toolbox) or busybox ls -lFa output into
// FileEntry children of a parent node. Entries that already exist under the
// parent are reused so callers keep stable pointers across refreshes.
type ListingReceiver struct {
	*LineReceiver
	parent  *models.FileEntry
	busybox bool
	now     func() time.Time

	mu      sync.Mutex
	entries []*models.FileEntry
	links   []*models.FileEntry
}

// NewListingReceiver creates a listing parser for parent's children
func NewListingReceiver(parent *models.FileEntry, busybox bool, opts ...Option) *ListingReceiver {
	r := &ListingReceiver{parent: parent, busybox: busybox, now: time.Now}
	r.LineReceiver = NewLineReceiver(r.processLine, opts...)
	return r
}

func (r *ListingReceiver) processLine(line string) {
	if line == "" || strings.HasPrefix(line, "total") {
		return
	}

	var (
		perms, owner, group, size string
		modTime                   time.Time
		name                      string
	)
	if m := isoListingPattern.FindStringSubmatch(line); m != nil {
		perms, owner, group, size = m[1], m[2], m[3], m[4]
		modTime, _ = time.Parse("2006-01-02 15:04", m[5]+" "+m[6])
		name = m[7]
	} else if m := busyboxListingPattern.FindStringSubmatch(line); m != nil {
		perms, owner, group, size = m[1], m[2], m[3], m[4]
		modTime = parseBusyBoxTime(m[5], r.now())
		name = m[6]
	} else {
		r.Logger().Debug("ls: skipped line %q", line)
		return
	}

	t := models.FileTypeFromPermissions(perms)
	var target, info string
	if t == models.FileTypeLink {
		if i := strings.Index(name, " -> "); i >= 0 {
			target = strings.TrimSpace(name[i+4:])
			name = name[:i]
			info = "-> " + target
		}
	}
	if r.busybox {
		name = stripClassifier(name, t)
		if strings.HasSuffix(target, "/") {
			t = models.FileTypeDirectoryLink
		}
		if target != "" {
			target = stripClassifier(target, models.FileTypeLink)
		}
	}
	if name == "" || name == "." || name == ".." {
		return
	}

	var sizeValue int64
	size = strings.TrimSpace(size)
	switch t {
	case models.FileTypeBlock, models.FileTypeCharacter:
		info = strings.Join(strings.Fields(size), " ")
	default:
		if size != "" {
			n, err := strconv.ParseInt(size, 10, 64)
			if err != nil {
				r.Logger().Debug("ls: bad size in %q", line)
			}
			sizeValue = n
		}
	}

	entry := r.parent.FindChild(name)
	if entry == nil {
		entry = models.NewFileEntry(r.parent, name, t)
	}
	entry.Type = t
	entry.Permissions = perms
	entry.Owner = owner
	entry.Group = group
	entry.Size = sizeValue
	entry.ModTime = modTime
	entry.LinkTarget = target
	entry.Info = info

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if t == models.FileTypeLink {
		r.links = append(r.links, entry)
	}
	r.mu.Unlock()
}

// stripClassifier removes the marker ls -F appends to a name
func stripClassifier(name string, t models.FileType) string {
	if name == "" {
		return name
	}
	switch name[len(name)-1] {
	case '/', '@', '|', '=', '*':
		if t == models.FileTypeFile && name[len(name)-1] != '*' {
			return name
		}
		return name[:len(name)-1]
	}
	return name
}

func parseBusyBoxTime(s string, now time.Time) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if t, err := time.Parse("Jan 2 15:04", s); err == nil {
		t = t.AddDate(now.Year(), 0, 0)
		if t.After(now.AddDate(0, 0, 1)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t
	}
	if t, err := time.Parse("Jan 2 2006", s); err == nil {
		return t
	}
	return time.Time{}
}

// Entries returns the parsed children in output order
func (r *ListingReceiver) Entries() []*models.FileEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.FileEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Links returns the entries that are symlinks; their target type is not known yet
func (r *ListingReceiver) Links() []*models.FileEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.FileEntry, len(r.links))
	copy(out, r.links)
	return out
}
