package client

import (
	"context"
	"encoding/binary"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
)

// RawImage is a framebuffer capture. Pixel data is left in device format.
type RawImage struct {
	Version     uint32 `json:"version"`
	Bpp         uint32 `json:"bpp"`
	ColorSpace  uint32 `json:"color_space"`
	Size        uint32 `json:"size"`
	Width       uint32 `json:"width"`
	Height      uint32 `json:"height"`
	RedOffset   uint32 `json:"red_offset"`
	RedLength   uint32 `json:"red_length"`
	BlueOffset  uint32 `json:"blue_offset"`
	BlueLength  uint32 `json:"blue_length"`
	GreenOffset uint32 `json:"green_offset"`
	GreenLength uint32 `json:"green_length"`
	AlphaOffset uint32 `json:"alpha_offset"`
	AlphaLength uint32 `json:"alpha_length"`
	Data        []byte `json:"-"`
}

// headerFields returns how many uint32 follow the version word
func headerFields(version uint32) (int, error) {
	switch version {
	case 16:
		return 3, nil
	case 1:
		return 12, nil
	case 2:
		return 13, nil
	}
	return 0, adberrors.Errorf(adberrors.KindProtocol, "BAD_FRAMEBUFFER",
		"unsupported framebuffer version %d", version)
}

// DecodeFrameBufferHeader fills a RawImage from the header words that follow the version
func DecodeFrameBufferHeader(version uint32, b []byte) (*RawImage, error) {
	n, err := headerFields(version)
	if err != nil {
		return nil, err
	}
	if len(b) < n*4 {
		return nil, adberrors.NewUnexpectedEOSError(n*4, len(b))
	}
	word := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i*4:]) }

	img := &RawImage{Version: version}
	switch version {
	case 16:
		// legacy RGB565 header carries only size, width and height
		img.Bpp = 16
		img.Size, img.Width, img.Height = word(0), word(1), word(2)
		img.RedOffset, img.RedLength = 11, 5
		img.GreenOffset, img.GreenLength = 5, 6
		img.BlueOffset, img.BlueLength = 0, 5
	case 1, 2:
		i := 0
		img.Bpp = word(i)
		i++
		if version == 2 {
			img.ColorSpace = word(i)
			i++
		}
		img.Size, img.Width, img.Height = word(i), word(i+1), word(i+2)
		i += 3
		img.RedOffset, img.RedLength = word(i), word(i+1)
		img.BlueOffset, img.BlueLength = word(i+2), word(i+3)
		img.GreenOffset, img.GreenLength = word(i+4), word(i+5)
		img.AlphaOffset, img.AlphaLength = word(i+6), word(i+7)
	}
	return img, nil
}

// GetFrameBuffer captures the screen of serial
func (c *Client) GetFrameBuffer(ctx context.Context, serial string) (*RawImage, error) {
	t, err := c.openService(ctx, serial, "framebuffer:")
	if err != nil {
		return nil, err
	}
	defer t.Close()
	stop := t.watch(ctx)
	defer stop()

	vb, err := t.ReadExactly(4)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	version := binary.LittleEndian.Uint32(vb)
	n, err := headerFields(version)
	if err != nil {
		return nil, err
	}
	hb, err := t.ReadExactly(n * 4)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	img, err := DecodeFrameBufferHeader(version, hb)
	if err != nil {
		return nil, err
	}

	// the server waits for one byte before sending pixels
	if _, err := t.Write([]byte{0}); err != nil {
		return nil, ctxErr(ctx, err)
	}
	img.Data, err = t.ReadExactly(int(img.Size))
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	return img, nil
}
