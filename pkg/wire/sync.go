package wire

import (
	"encoding/binary"
	"io"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
)

// Sync sub-protocol command ids.
const (
	SyncStat = "STAT"
	SyncList = "LIST"
	SyncSend = "SEND"
	SyncRecv = "RECV"
	SyncData = "DATA"
	SyncDone = "DONE"
	SyncFail = "FAIL"
	SyncOkay = "OKAY"
	SyncDent = "DENT"
	SyncQuit = "QUIT"
)

// SyncMaxChunkSize is the largest DATA payload adb accepts.
const SyncMaxChunkSize = 64 * 1024

const (
	syncHeaderLength = 8
	// SyncStatLength is the body length of a STAT response.
	SyncStatLength = 12
	// SyncDentLength is the fixed part of a DENT response.
	SyncDentLength = 16
)

// SyncFileStat is the mode/size/mtime triple returned by STAT.
// MTime is seconds since the Unix epoch in UTC.
type SyncFileStat struct {
	Mode  uint32
	Size  uint32
	MTime uint32
}

// Exists reports whether the remote path exists; adb reports missing files with an all-zero mode.
func (s SyncFileStat) Exists() bool {
	return s.Mode != 0
}

// ModTime returns MTime as a UTC time.
func (s SyncFileStat) ModTime() time.Time {
	return time.Unix(int64(s.MTime), 0).UTC()
}

// IsDir reports whether the mode describes a directory.
func (s SyncFileStat) IsDir() bool {
	return s.Mode&TypeMask == ModeDir
}

// DirEntry is one LIST result.
type DirEntry struct {
	Name string
	SyncFileStat
}

func validSyncID(id string) error {
	if len(id) != 4 {
		return adberrors.Errorf(adberrors.KindProtocol, "BAD_SYNC_ID",
			"sync id must be exactly 4 bytes: %q", id)
	}
	return nil
}

// EncodeSyncRequest frames id, the little-endian payload length and payload.
func EncodeSyncRequest(id string, payload []byte) ([]byte, error) {
	if err := validSyncID(id); err != nil {
		return nil, err
	}
	if len(payload) > SyncMaxChunkSize {
		return nil, adberrors.Errorf(adberrors.KindProtocol, "TOO_LONG",
			"sync payload length %d exceeds maximum %d", len(payload), SyncMaxChunkSize)
	}
	frame := make([]byte, syncHeaderLength, syncHeaderLength+len(payload))
	copy(frame, id)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(payload)))
	return append(frame, payload...), nil
}

// EncodeSyncHeader frames id followed by a 32-bit value, as used by DONE <mtime>.
func EncodeSyncHeader(id string, value uint32) ([]byte, error) {
	if err := validSyncID(id); err != nil {
		return nil, err
	}
	frame := make([]byte, syncHeaderLength)
	copy(frame, id)
	binary.LittleEndian.PutUint32(frame[4:], value)
	return frame, nil
}

// DecodeSyncResponse reads the 8-byte header of a sync response.
func DecodeSyncResponse(r io.Reader) (string, uint32, error) {
	b, err := ReadExactly(r, syncHeaderLength)
	if err != nil {
		return "", 0, err
	}
	return string(b[:4]), binary.LittleEndian.Uint32(b[4:]), nil
}

// DecodeSyncStat decodes the 12-byte STAT body.
func DecodeSyncStat(b []byte) (SyncFileStat, error) {
	if len(b) < SyncStatLength {
		return SyncFileStat{}, adberrors.NewUnexpectedEOSError(SyncStatLength, len(b))
	}
	return SyncFileStat{
		Mode:  binary.LittleEndian.Uint32(b[0:4]),
		Size:  binary.LittleEndian.Uint32(b[4:8]),
		MTime: binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeSyncStat is the inverse of DecodeSyncStat.
func EncodeSyncStat(s SyncFileStat) []byte {
	b := make([]byte, SyncStatLength)
	binary.LittleEndian.PutUint32(b[0:4], s.Mode)
	binary.LittleEndian.PutUint32(b[4:8], s.Size)
	binary.LittleEndian.PutUint32(b[8:12], s.MTime)
	return b
}

// DecodeDirEntry decodes the 16-byte DENT body and returns the name length that follows it.
func DecodeDirEntry(b []byte) (SyncFileStat, uint32, error) {
	if len(b) < SyncDentLength {
		return SyncFileStat{}, 0, adberrors.NewUnexpectedEOSError(SyncDentLength, len(b))
	}
	stat, _ := DecodeSyncStat(b[:SyncStatLength])
	return stat, binary.LittleEndian.Uint32(b[12:16]), nil
}

// ReadDirEntry reads the remainder of a DENT frame, after its id, from r.
func ReadDirEntry(r io.Reader) (DirEntry, error) {
	b, err := ReadExactly(r, SyncDentLength)
	if err != nil {
		return DirEntry{}, err
	}
	stat, nameLen, err := DecodeDirEntry(b)
	if err != nil {
		return DirEntry{}, err
	}
	if nameLen > SyncMaxChunkSize {
		return DirEntry{}, adberrors.Errorf(adberrors.KindProtocol, "TOO_LONG",
			"directory entry name length %d", nameLen)
	}
	name, err := ReadExactly(r, int(nameLen))
	if err != nil {
		return DirEntry{}, err
	}
	return DirEntry{Name: string(name), SyncFileStat: stat}, nil
}

// EncodeDirEntry frames a DENT response.
func EncodeDirEntry(e DirEntry) []byte {
	b := make([]byte, 0, 4+SyncDentLength+len(e.Name))
	b = append(b, SyncDent...)
	b = append(b, EncodeSyncStat(e.SyncFileStat)...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(e.Name)))
	return append(b, e.Name...)
}
