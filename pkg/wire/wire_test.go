package wire

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHostRequest(t *testing.T) {
	frame, err := EncodeHostRequest("host:version")
	require.NoError(t, err)
	assert.Equal(t, "000Chost:version", string(frame))

	frame, err = EncodeHostRequest("")
	require.NoError(t, err)
	assert.Equal(t, "0000", string(frame))
}

func TestHostRequestRoundTrip(t *testing.T) {
	payloads := []string{
		"",
		"host:devices-l",
		"shell:echo héllo wörld",
		strings.Repeat("x", 255),
		strings.Repeat("y", MaxMessageLength),
		strings.Repeat("é", MaxMessageLength/2),
	}
	for _, p := range payloads {
		frame, err := EncodeHostRequest(p)
		require.NoError(t, err)
		got, err := DecodeHostRequest(frame)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestEncodeHostRequestTooLong(t *testing.T) {
	for _, n := range []int{MaxMessageLength + 1, 100000} {
		_, err := EncodeHostRequest(strings.Repeat("a", n))
		require.Error(t, err)
		assert.ErrorIs(t, err, adberrors.ErrProtocol)
	}

	// length is counted in bytes, not runes
	_, err := EncodeHostRequest(strings.Repeat("é", MaxMessageLength/2+1))
	assert.ErrorIs(t, err, adberrors.ErrProtocol)
}

func TestDecodeHostRequestErrors(t *testing.T) {
	_, err := DecodeHostRequest([]byte("00"))
	assert.ErrorIs(t, err, adberrors.ErrUnexpectedEndOfStream)

	_, err = DecodeHostRequest([]byte("0005abc"))
	assert.ErrorIs(t, err, adberrors.ErrUnexpectedEndOfStream)

	_, err = DecodeHostRequest([]byte("zzzzabc"))
	assert.ErrorIs(t, err, adberrors.ErrProtocol)

	_, err = DecodeHostRequest([]byte("0001abc"))
	assert.ErrorIs(t, err, adberrors.ErrProtocol)
}

func TestDecodeStatus(t *testing.T) {
	s, err := DecodeStatus([]byte("OKAY"))
	require.NoError(t, err)
	assert.Equal(t, StatusOkay, s)

	s, err = DecodeStatus([]byte("FAIL"))
	require.NoError(t, err)
	assert.Equal(t, StatusFail, s)

	for _, bad := range []string{"okay", "FAIl", "DATA", "\x00\x00\x00\x00", "OKA "} {
		_, err := DecodeStatus([]byte(bad))
		assert.ErrorIs(t, err, adberrors.ErrProtocol, bad)
	}

	_, err = DecodeStatus([]byte("OK"))
	assert.ErrorIs(t, err, adberrors.ErrUnexpectedEndOfStream)
}

func TestReadFailMessage(t *testing.T) {
	msg, err := ReadFailMessage(strings.NewReader("0014device 'x' not found"))
	require.NoError(t, err)
	assert.Equal(t, "device 'x' not found", msg)

	_, err = ReadFailMessage(strings.NewReader("0010short"))
	assert.ErrorIs(t, err, adberrors.ErrUnexpectedEndOfStream)
}

func TestReadExactlyShortRead(t *testing.T) {
	b, err := ReadExactly(strings.NewReader("abc"), 5)
	require.Error(t, err)
	assert.Equal(t, "abc", string(b))
	assert.ErrorIs(t, err, adberrors.ErrUnexpectedEndOfStream)
}

func TestSyncRequestFraming(t *testing.T) {
	frame, err := EncodeSyncRequest(SyncStat, []byte("/sdcard"))
	require.NoError(t, err)
	assert.Equal(t, []byte{'S', 'T', 'A', 'T', 7, 0, 0, 0}, frame[:8])
	assert.Equal(t, "/sdcard", string(frame[8:]))

	id, length, err := DecodeSyncResponse(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, SyncStat, id)
	assert.Equal(t, uint32(7), length)

	_, err = EncodeSyncRequest("STA", nil)
	assert.ErrorIs(t, err, adberrors.ErrProtocol)

	_, err = EncodeSyncRequest(SyncData, make([]byte, SyncMaxChunkSize+1))
	assert.ErrorIs(t, err, adberrors.ErrProtocol)

	done, err := EncodeSyncHeader(SyncDone, 0x01020304)
	require.NoError(t, err)
	assert.Equal(t, []byte{'D', 'O', 'N', 'E', 4, 3, 2, 1}, done)
}

func TestDecodeSyncResponseShort(t *testing.T) {
	_, _, err := DecodeSyncResponse(bytes.NewReader([]byte("DATA\x01")))
	assert.ErrorIs(t, err, adberrors.ErrUnexpectedEndOfStream)
}

func TestDecodeSyncStat(t *testing.T) {
	stat, err := DecodeSyncStat([]byte{160, 129, 0, 0, 85, 2, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, uint32(597), stat.Size)
	assert.Equal(t, ModeRegular, stat.Mode&TypeMask)
	assert.Equal(t, uint32(0), stat.MTime)
	assert.True(t, stat.ModTime().Equal(time.Unix(0, 0)))
	assert.Equal(t, os.FileMode(0640), ToFileMode(stat.Mode).Perm())
	assert.True(t, stat.Exists())

	_, err = DecodeSyncStat([]byte{1, 2, 3})
	assert.ErrorIs(t, err, adberrors.ErrUnexpectedEndOfStream)
}

func TestDirEntryRoundTrip(t *testing.T) {
	entry := DirEntry{Name: "build.prop", SyncFileStat: SyncFileStat{Mode: ModeRegular | 0644, Size: 42, MTime: 1700000000}}
	frame := EncodeDirEntry(entry)

	r := bytes.NewReader(frame)
	id, err := ReadExactly(r, 4)
	require.NoError(t, err)
	assert.Equal(t, SyncDent, string(id))

	got, err := ReadDirEntry(r)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestToFileMode(t *testing.T) {
	assert.True(t, ToFileMode(ModeDir|0755).IsDir())
	assert.Equal(t, os.ModeSymlink, ToFileMode(ModeSymlink|0777)&os.ModeType)
	assert.True(t, ToFileMode(ModeRegular|0644).IsRegular())
	assert.Equal(t, ModeDir|0755, FromFileMode(os.ModeDir|0755))
	assert.Equal(t, ModeRegular|0644, FromFileMode(0644))
}

func TestWriteFully(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFully(&buf, []byte("hello")))
	assert.Equal(t, "hello", buf.String())
}
