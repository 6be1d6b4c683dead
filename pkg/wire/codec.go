// Package wire implements the framing used by the adb host protocol and
// its sync sub-protocol. Nothing here performs network I/O on its own;
// functions taking an io.Reader only read what one frame needs.
package wire

import (
	"fmt"
	"io"
	"strconv"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
)

const (
	// MaxMessageLength is the largest payload a 4-hex-digit length can describe.
	MaxMessageLength = 0xFFFF

	// StatusLength is the size of an OKAY/FAIL status word.
	StatusLength = 4
)

// Status is the 4-byte response word of the host protocol.
type Status int

const (
	StatusOkay Status = iota
	StatusFail
)

func (s Status) String() string {
	if s == StatusOkay {
		return "OKAY"
	}
	return "FAIL"
}

// EncodeHostRequest frames payload as 4 uppercase hex digits of its byte length followed by the bytes.
func EncodeHostRequest(payload string) ([]byte, error) {
	if len(payload) > MaxMessageLength {
		return nil, adberrors.Errorf(adberrors.KindProtocol, "TOO_LONG",
			"request length %d exceeds maximum %d", len(payload), MaxMessageLength)
	}
	frame := make([]byte, 0, 4+len(payload))
	frame = append(frame, fmt.Sprintf("%04X", len(payload))...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeHostRequest parses a frame produced by EncodeHostRequest.
func DecodeHostRequest(frame []byte) (string, error) {
	if len(frame) < 4 {
		return "", adberrors.NewUnexpectedEOSError(4, len(frame))
	}
	n, err := ParseHexLength(frame[:4])
	if err != nil {
		return "", err
	}
	body := frame[4:]
	if len(body) < n {
		return "", adberrors.NewUnexpectedEOSError(n, len(body))
	}
	if len(body) > n {
		return "", adberrors.Errorf(adberrors.KindProtocol, "LENGTH_MISMATCH",
			"frame declares %d bytes but carries %d", n, len(body))
	}
	return string(body), nil
}

// ParseHexLength decodes a 4-digit hex length prefix.
func ParseHexLength(b []byte) (int, error) {
	if len(b) != 4 {
		return 0, adberrors.NewUnexpectedEOSError(4, len(b))
	}
	n, err := strconv.ParseUint(string(b), 16, 16)
	if err != nil {
		return 0, adberrors.Errorf(adberrors.KindProtocol, "BAD_LENGTH",
			"invalid hex length %q", b)
	}
	return int(n), nil
}

// DecodeStatus maps exactly "OKAY" or "FAIL"; anything else is a protocol error.
func DecodeStatus(b []byte) (Status, error) {
	if len(b) < StatusLength {
		return StatusFail, adberrors.NewUnexpectedEOSError(StatusLength, len(b))
	}
	switch string(b[:StatusLength]) {
	case "OKAY":
		return StatusOkay, nil
	case "FAIL":
		return StatusFail, nil
	}
	return StatusFail, adberrors.Errorf(adberrors.KindProtocol, "BAD_STATUS",
		"unexpected status %q", b[:StatusLength])
}

// ReadExactly reads n bytes from r. A stream that ends early is an
// UnexpectedEndOfStream error carrying how much arrived.
func ReadExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err == nil {
		return buf, nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return buf[:got], adberrors.NewUnexpectedEOSError(n, got)
	}
	return buf[:got], adberrors.NewIOError(err, "read failed")
}

// ReadStatus reads one status word from r.
func ReadStatus(r io.Reader) (Status, error) {
	b, err := ReadExactly(r, StatusLength)
	if err != nil {
		return StatusFail, err
	}
	return DecodeStatus(b)
}

// ReadHexLength reads a 4-digit hex length prefix from r.
func ReadHexLength(r io.Reader) (int, error) {
	b, err := ReadExactly(r, 4)
	if err != nil {
		return 0, err
	}
	return ParseHexLength(b)
}

// ReadLengthPrefixed reads a hex length prefix and that many bytes.
func ReadLengthPrefixed(r io.Reader) ([]byte, error) {
	n, err := ReadHexLength(r)
	if err != nil {
		return nil, err
	}
	return ReadExactly(r, n)
}

// ReadFailMessage reads the diagnostic string that follows a FAIL status.
func ReadFailMessage(r io.Reader) (string, error) {
	b, err := ReadLengthPrefixed(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteFully writes all of data to w; a short write is an IO error.
func WriteFully(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return adberrors.NewIOError(err, "write failed")
		}
		if n == 0 {
			return adberrors.NewIOError(io.ErrShortWrite, "write failed")
		}
		data = data[n:]
	}
	return nil
}
