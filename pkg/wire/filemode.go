package wire

import "os"

// Unix file type bits as reported in sync STAT/DENT modes.
const (
	TypeMask    uint32 = 0170000
	ModeSocket  uint32 = 0140000
	ModeSymlink uint32 = 0120000
	ModeRegular uint32 = 0100000
	ModeBlock   uint32 = 0060000
	ModeDir     uint32 = 0040000
	ModeChar    uint32 = 0020000
	ModeFifo    uint32 = 0010000
)

// ToFileMode converts an adb mode word to an os.FileMode.
func ToFileMode(mode uint32) os.FileMode {
	var fm os.FileMode
	switch mode & TypeMask {
	case ModeSymlink:
		fm = os.ModeSymlink
	case ModeDir:
		fm = os.ModeDir
	case ModeSocket:
		fm = os.ModeSocket
	case ModeFifo:
		fm = os.ModeNamedPipe
	case ModeChar:
		fm = os.ModeDevice | os.ModeCharDevice
	case ModeBlock:
		fm = os.ModeDevice
	}
	return fm | os.FileMode(mode).Perm()
}

// FromFileMode converts an os.FileMode to the adb mode word sent with SEND.
func FromFileMode(fm os.FileMode) uint32 {
	mode := uint32(fm.Perm())
	switch {
	case fm&os.ModeSymlink != 0:
		mode |= ModeSymlink
	case fm&os.ModeDir != 0:
		mode |= ModeDir
	case fm&os.ModeSocket != 0:
		mode |= ModeSocket
	case fm&os.ModeNamedPipe != 0:
		mode |= ModeFifo
	case fm&os.ModeCharDevice != 0:
		mode |= ModeChar
	case fm&os.ModeDevice != 0:
		mode |= ModeBlock
	default:
		mode |= ModeRegular
	}
	return mode
}
