// Package adbtest runs an in-process adb server for tests. It speaks the host
// protocol, answers shell commands from a table and keeps an in-memory file
// system behind the sync service.
package adbtest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/huanfeng/adbkit/pkg/wire"
)

// File is one node of the fake device file system
type File struct {
	Mode  uint32
	Data  []byte
	MTime uint32
}

type shellReply struct {
	output string
	fail   string
	hang   bool
}

// Server is a fake adb server listening on 127.0.0.1
type Server struct {
	ln net.Listener
	wg sync.WaitGroup

	mu          sync.Mutex
	version     int
	devices     string
	shell       map[string]shellReply
	files       map[string]*File
	forwards    []string
	framebuffer []byte
	rawRecv []byte
	trackers    map[chan string]struct{}
	requests    []string
	conns       map[net.Conn]struct{}
	closed      bool
}

// New starts a server and stops it when the test ends
func New(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		ln:       ln,
		version:  41,
		shell:    make(map[string]shellReply),
		files:    map[string]*File{"/": {Mode: wire.ModeDir | 0755}},
		trackers: make(map[chan string]struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port of the listener
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// SetVersion sets the value returned by host:version
func (s *Server) SetVersion(v int) {
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
}

// SetDevices replaces the device list payload and pushes it to every tracker
func (s *Server) SetDevices(payload string) {
	s.mu.Lock()
	s.devices = payload
	trackers := make([]chan string, 0, len(s.trackers))
	for ch := range s.trackers {
		trackers = append(trackers, ch)
	}
	s.mu.Unlock()
	for _, ch := range trackers {
		select {
		case ch <- payload:
		default:
		}
	}
}

// HandleShell answers command with output
func (s *Server) HandleShell(command, output string) {
	s.mu.Lock()
	s.shell[command] = shellReply{output: output}
	s.mu.Unlock()
}

// FailShell rejects command with diag
func (s *Server) FailShell(command, diag string) {
	s.mu.Lock()
	s.shell[command] = shellReply{fail: diag}
	s.mu.Unlock()
}

// HangShell accepts command but never writes output
func (s *Server) HangShell(command string) {
	s.mu.Lock()
	s.shell[command] = shellReply{hang: true}
	s.mu.Unlock()
}

// WriteFile stores a regular file, creating parent directories
func (s *Server) WriteFile(p string, data []byte, perm uint32, mtime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(path.Dir(p))
	s.files[p] = &File{Mode: wire.ModeRegular | perm, Data: append([]byte(nil), data...), MTime: uint32(mtime.Unix())}
}

// Mkdir creates a directory and its parents
func (s *Server) Mkdir(p string) {
	s.mu.Lock()
	s.mkdirAllLocked(p)
	s.mu.Unlock()
}

func (s *Server) mkdirAllLocked(p string) {
	for p != "/" && p != "." {
		if _, ok := s.files[p]; !ok {
			s.files[p] = &File{Mode: wire.ModeDir | 0755}
		}
		p = path.Dir(p)
	}
}

// File returns a copy of the file at p
func (s *Server) File(p string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[p]
	if !ok {
		return File{}, false
	}
	return File{Mode: f.Mode, Data: append([]byte(nil), f.Data...), MTime: f.MTime}, true
}

// SetFrameBuffer sets the bytes sent by framebuffer:, header included
func (s *Server) SetFrameBuffer(b []byte) {
	s.mu.Lock()
	s.framebuffer = b
	s.mu.Unlock()
}

// SetRawRecvReply makes every RECV answer with frame verbatim and end the
// sync service.
func (s *Server) SetRawRecvReply(frame []byte) {
	s.mu.Lock()
	s.rawRecv = frame
	s.mu.Unlock()
}

// Forwards returns the active forwards as "serial local remote"
func (s *Server) Forwards() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.forwards...)
}

// Requests returns every request received, in order
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Close stops the listener and drops every connection
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.handle(conn)
		}()
	}
}

type session struct {
	s    *Server
	conn net.Conn
	r    *bufio.Reader
}

func (c *session) okay() {
	c.conn.Write([]byte("OKAY"))
}

func (c *session) fail(diag string) {
	fmt.Fprintf(c.conn, "FAIL%04x%s", len(diag), diag)
}

func (c *session) reply(payload string) {
	c.okay()
	fmt.Fprintf(c.conn, "%04x%s", len(payload), payload)
}

func (c *session) readRequest() (string, error) {
	n, err := wire.ReadHexLength(c.r)
	if err != nil {
		return "", err
	}
	b, err := wire.ReadExactly(c.r, n)
	if err != nil {
		return "", err
	}
	req := string(b)
	c.s.mu.Lock()
	c.s.requests = append(c.s.requests, req)
	c.s.mu.Unlock()
	return req, nil
}

func (s *Server) handle(conn net.Conn) {
	c := &session{s: s, conn: conn, r: bufio.NewReader(conn)}
	for {
		req, err := c.readRequest()
		if err != nil {
			return
		}
		if !c.host(req) {
			return
		}
	}
}

// host serves one host request and reports whether the connection stays open
func (c *session) host(req string) bool {
	s := c.s
	switch {
	case req == "host:version":
		s.mu.Lock()
		v := s.version
		s.mu.Unlock()
		c.reply(fmt.Sprintf("%04x", v))
	case req == "host:kill":
		c.okay()
	case req == "host:devices" || req == "host:devices-l":
		s.mu.Lock()
		devices := s.devices
		s.mu.Unlock()
		c.reply(devices)
	case req == "host:track-devices":
		c.track()
	case req == "host:transport-any":
		if serial := c.s.firstSerial(); serial == "" {
			c.fail("no devices/emulators found")
			return false
		}
		c.okay()
		c.device()
	case strings.HasPrefix(req, "host:transport:"):
		serial := strings.TrimPrefix(req, "host:transport:")
		if !s.hasDevice(serial) {
			c.fail(fmt.Sprintf("device '%s' not found", serial))
			return false
		}
		c.okay()
		c.device()
	case strings.HasPrefix(req, "host-serial:"):
		c.forward(req)
	case req == "host:list-forward":
		s.mu.Lock()
		var b strings.Builder
		for _, f := range s.forwards {
			b.WriteString(f)
			b.WriteByte('\n')
		}
		s.mu.Unlock()
		c.reply(b.String())
	case strings.HasPrefix(req, "host:connect:"):
		target := strings.TrimPrefix(req, "host:connect:")
		if strings.HasPrefix(target, "bad") {
			c.reply("failed to connect to " + target)
		} else {
			c.reply("connected to " + target)
		}
	case strings.HasPrefix(req, "host:disconnect:"):
		c.reply("disconnected " + strings.TrimPrefix(req, "host:disconnect:"))
	default:
		c.fail("unknown host service")
	}
	return false
}

func (s *Server) serials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, line := range strings.Split(s.devices, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			out = append(out, fields[0])
		}
	}
	return out
}

func (s *Server) firstSerial() string {
	serials := s.serials()
	if len(serials) == 0 {
		return ""
	}
	return serials[0]
}

func (s *Server) hasDevice(serial string) bool {
	for _, sr := range s.serials() {
		if sr == serial {
			return true
		}
	}
	return false
}

func (c *session) track() {
	s := c.s
	ch := make(chan string, 16)
	s.mu.Lock()
	s.trackers[ch] = struct{}{}
	current := s.devices
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.trackers, ch)
		s.mu.Unlock()
	}()

	c.okay()
	if _, err := fmt.Fprintf(c.conn, "%04x%s", len(current), current); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		io.Copy(io.Discard, c.r)
		close(closed)
	}()
	for {
		select {
		case payload := <-ch:
			if _, err := fmt.Fprintf(c.conn, "%04x%s", len(payload), payload); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (c *session) forward(req string) {
	s := c.s
	rest := strings.TrimPrefix(req, "host-serial:")
	serial, cmd, ok := strings.Cut(rest, ":")
	if !ok || !s.hasDevice(serial) {
		c.fail(fmt.Sprintf("device '%s' not found", serial))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.HasPrefix(cmd, "forward:"):
		local, remote, ok := strings.Cut(strings.TrimPrefix(cmd, "forward:"), ";")
		if !ok {
			c.fail("malformed forward spec")
			return
		}
		s.forwards = append(s.forwards, serial+" "+local+" "+remote)
		c.okay()
		c.okay()
	case strings.HasPrefix(cmd, "killforward:"):
		local := strings.TrimPrefix(cmd, "killforward:")
		for i, f := range s.forwards {
			if strings.Fields(f)[1] == local {
				s.forwards = append(s.forwards[:i], s.forwards[i+1:]...)
				c.okay()
				c.okay()
				return
			}
		}
		c.okay()
		c.fail(fmt.Sprintf("listener '%s' not found", local))
	case cmd == "killforward-all":
		kept := s.forwards[:0]
		for _, f := range s.forwards {
			if !strings.HasPrefix(f, serial+" ") {
				kept = append(kept, f)
			}
		}
		s.forwards = kept
		c.okay()
		c.okay()
	default:
		c.fail("unknown host-serial service")
	}
}

// device serves the one service request that follows a transport switch
func (c *session) device() {
	req, err := c.readRequest()
	if err != nil {
		return
	}
	s := c.s
	switch {
	case strings.HasPrefix(req, "shell:"):
		cmd := strings.TrimPrefix(req, "shell:")
		s.mu.Lock()
		r, ok := s.shell[cmd]
		s.mu.Unlock()
		switch {
		case !ok:
			c.okay()
			fmt.Fprintf(c.conn, "/system/bin/sh: %s: not found\n", strings.Fields(cmd+" x")[0])
		case r.fail != "":
			c.fail(r.fail)
		case r.hang:
			c.okay()
			io.Copy(io.Discard, c.r)
		default:
			c.okay()
			io.WriteString(c.conn, r.output)
		}
	case req == "sync:":
		c.okay()
		c.sync()
	case strings.HasPrefix(req, "reboot:"):
		c.okay()
	case req == "remount:":
		c.okay()
		io.WriteString(c.conn, "remount succeeded\n")
	case req == "framebuffer:":
		s.mu.Lock()
		fb := s.framebuffer
		s.mu.Unlock()
		if fb == nil {
			c.fail("unable to connect to framebuffer")
			return
		}
		c.okay()
		c.frameBuffer(fb)
	default:
		c.fail("unknown service " + req)
	}
}

func (c *session) frameBuffer(fb []byte) {
	version := binary.LittleEndian.Uint32(fb)
	words := map[uint32]int{16: 3, 1: 12, 2: 13}[version]
	header := 4 + words*4
	if _, err := c.conn.Write(fb[:header]); err != nil {
		return
	}
	if _, err := wire.ReadExactly(c.r, 1); err != nil {
		return
	}
	c.conn.Write(fb[header:])
}

func (c *session) sync() {
	for {
		id, length, err := wire.DecodeSyncResponse(c.r)
		if err != nil {
			return
		}
		if id == wire.SyncQuit {
			return
		}
		arg, err := wire.ReadExactly(c.r, int(length))
		if err != nil {
			return
		}
		switch id {
		case wire.SyncStat:
			c.syncStat(string(arg))
		case wire.SyncList:
			c.syncList(string(arg))
		case wire.SyncRecv:
			if !c.syncRecv(string(arg)) {
				return
			}
		case wire.SyncSend:
			if !c.syncSend(string(arg)) {
				return
			}
		default:
			c.syncFail("unknown sync command " + id)
			return
		}
	}
}

func (c *session) syncFail(msg string) {
	frame, _ := wire.EncodeSyncRequest(wire.SyncFail, []byte(msg))
	c.conn.Write(frame)
}

func (c *session) syncStat(p string) {
	f, ok := c.s.File(p)
	var st wire.SyncFileStat
	if ok {
		st = wire.SyncFileStat{Mode: f.Mode, Size: uint32(len(f.Data)), MTime: f.MTime}
	}
	c.conn.Write(append([]byte(wire.SyncStat), wire.EncodeSyncStat(st)...))
}

func (c *session) syncList(dir string) {
	dir = path.Clean(dir)
	s := c.s
	s.mu.Lock()
	var entries []wire.DirEntry
	entries = append(entries,
		wire.DirEntry{Name: ".", SyncFileStat: wire.SyncFileStat{Mode: wire.ModeDir | 0755}},
		wire.DirEntry{Name: "..", SyncFileStat: wire.SyncFileStat{Mode: wire.ModeDir | 0755}})
	var names []string
	for p := range s.files {
		if p != "/" && path.Dir(p) == dir {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	for _, p := range names {
		f := s.files[p]
		entries = append(entries, wire.DirEntry{
			Name:         path.Base(p),
			SyncFileStat: wire.SyncFileStat{Mode: f.Mode, Size: uint32(len(f.Data)), MTime: f.MTime},
		})
	}
	s.mu.Unlock()

	for _, e := range entries {
		if _, err := c.conn.Write(wire.EncodeDirEntry(e)); err != nil {
			return
		}
	}
	c.conn.Write(append([]byte(wire.SyncDone), make([]byte, wire.SyncDentLength)...))
}

// syncRecv streams p and reports whether the service stays up
func (c *session) syncRecv(p string) bool {
	c.s.mu.Lock()
	raw := c.s.rawRecv
	c.s.mu.Unlock()
	if raw != nil {
		c.conn.Write(raw)
		return false
	}
	f, ok := c.s.File(p)
	if !ok || f.Mode&wire.TypeMask != wire.ModeRegular {
		c.syncFail("No such file or directory")
		return false
	}
	for off := 0; off < len(f.Data); off += wire.SyncMaxChunkSize {
		end := off + wire.SyncMaxChunkSize
		if end > len(f.Data) {
			end = len(f.Data)
		}
		frame, _ := wire.EncodeSyncRequest(wire.SyncData, f.Data[off:end])
		if _, err := c.conn.Write(frame); err != nil {
			return false
		}
	}
	done, _ := wire.EncodeSyncHeader(wire.SyncDone, 0)
	_, err := c.conn.Write(done)
	return err == nil
}

func (c *session) syncSend(spec string) bool {
	i := strings.LastIndexByte(spec, ',')
	if i < 0 {
		c.syncFail("missing mode in " + spec)
		return false
	}
	p := spec[:i]
	mode, err := strconv.ParseUint(spec[i+1:], 10, 32)
	if err != nil {
		c.syncFail("bad mode in " + spec)
		return false
	}

	var data []byte
	for {
		id, length, err := wire.DecodeSyncResponse(c.r)
		if err != nil {
			return false
		}
		switch id {
		case wire.SyncData:
			chunk, err := wire.ReadExactly(c.r, int(length))
			if err != nil {
				return false
			}
			data = append(data, chunk...)
		case wire.SyncDone:
			s := c.s
			s.mu.Lock()
			if parent, ok := s.files[path.Dir(p)]; ok && parent.Mode&wire.TypeMask != wire.ModeDir {
				s.mu.Unlock()
				c.syncFail("secure_mkdirs failed: Not a directory")
				return false
			}
			s.mkdirAllLocked(path.Dir(p))
			s.files[p] = &File{Mode: uint32(mode), Data: data, MTime: length}
			s.mu.Unlock()
			okay, _ := wire.EncodeSyncHeader(wire.SyncOkay, 0)
			c.conn.Write(okay)
			return true
		default:
			c.syncFail("unexpected " + id)
			return false
		}
	}
}
