package crihca

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"haruki-hca-codec/utils/bitio"
)

const (
	headerMask    = 0x7F7F7F7F
	chunkHCA      = 0x48434100 // "HCA\0"
	chunkFmt      = 0x666D7400 // "fmt\0"
	chunkComp     = 0x636F6D70 // "comp"
	chunkDec      = 0x64656300 // "dec\0"
	chunkVbr      = 0x76627200 // "vbr\0"
	chunkAth      = 0x61746800 // "ath\0"
	chunkLoop     = 0x6C6F6F70 // "loop"
	chunkCiph     = 0x63697068 // "ciph"
	chunkRva      = 0x72766100 // "rva\0"
	chunkComm     = 0x636F6D6D // "comm"
	versionMin    = 0x0101
	versionMax    = 0x0200
	writeVersion  = 0x0200
	maxHeaderSize = 0x1000
)

// HeaderSize returns the header length declared by the first 8 bytes of
// an HCA file.
func HeaderSize(data []byte) (int, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: %d bytes is too short for an HCA header", ErrFormat, len(data))
	}
	r := bitio.NewReader(data[:8])
	if r.Read(32)&headerMask != chunkHCA {
		return 0, fmt.Errorf("%w: missing HCA signature", ErrFormat)
	}
	r.Skip(16)
	size := r.ReadInt(16)
	if size < 8 || size > maxHeaderSize {
		return 0, fmt.Errorf("%w: header size %d", ErrFormat, size)
	}
	return size, nil
}

// ParseHeader reads the chunked stream header. Chunk ids are matched with
// their high bits cleared, since encrypted files set them.
func ParseHeader(data []byte) (*Info, error) {
	headerSize, err := HeaderSize(data)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrFormat, headerSize, len(data))
	}
	if crc16(data[:headerSize]) != 0 {
		return nil, fmt.Errorf("%w: header", ErrChecksum)
	}

	r := bitio.NewReader(data[:headerSize])
	r.Skip(32)
	info := &Info{Volume: 1}
	info.Version = r.ReadInt(16)
	info.HeaderSize = r.ReadInt(16)
	if info.Version < versionMin || info.Version > versionMax {
		return nil, fmt.Errorf("%w: unsupported version %#04x", ErrFormat, info.Version)
	}

	size := headerSize - 8
	chunk := func(id uint32, length int) bool {
		if size < length || r.Peek(32)&headerMask != id {
			return false
		}
		r.Skip(32)
		size -= length
		return true
	}

	if !chunk(chunkFmt, 0x10) {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrFormat)
	}
	info.ChannelCount = r.ReadInt(8)
	info.SampleRate = r.ReadInt(24)
	info.FrameCount = r.ReadInt(32)
	info.InsertedSamples = r.ReadInt(16)
	info.AppendedSamples = r.ReadInt(16)

	msStereo := 0
	switch {
	case chunk(chunkComp, 0x10):
		info.FrameSize = r.ReadInt(16)
		info.MinResolution = r.ReadInt(8)
		info.MaxResolution = r.ReadInt(8)
		info.TrackCount = r.ReadInt(8)
		info.ChannelConfig = r.ReadInt(8)
		info.TotalBandCount = r.ReadInt(8)
		info.BaseBandCount = r.ReadInt(8)
		info.StereoBandCount = r.ReadInt(8)
		info.BandsPerHfrGroup = r.ReadInt(8)
		msStereo = r.ReadInt(8)
		r.Skip(8)
	case chunk(chunkDec, 0x0C):
		info.FrameSize = r.ReadInt(16)
		info.MinResolution = r.ReadInt(8)
		info.MaxResolution = r.ReadInt(8)
		info.TotalBandCount = r.ReadInt(8) + 1
		info.BaseBandCount = r.ReadInt(8) + 1
		info.TrackCount = r.ReadInt(4)
		info.ChannelConfig = r.ReadInt(4)
		if stereoType := r.ReadInt(8); stereoType == 0 {
			info.BaseBandCount = info.TotalBandCount
		}
		info.StereoBandCount = info.TotalBandCount - info.BaseBandCount
	default:
		return nil, fmt.Errorf("%w: missing comp or dec chunk", ErrFormat)
	}

	if chunk(chunkVbr, 0x08) {
		return nil, fmt.Errorf("%w: variable bitrate streams are not supported", ErrFormat)
	}

	if chunk(chunkAth, 0x06) {
		info.UseAthCurve = r.ReadInt(16) == 1
	} else {
		info.UseAthCurve = info.Version < 0x0200
	}

	if chunk(chunkLoop, 0x10) {
		info.Looping = true
		info.LoopStartFrame = r.ReadInt(32)
		info.LoopEndFrame = r.ReadInt(32)
		info.PreLoopSamples = r.ReadInt(16)
		info.PostLoopSamples = r.ReadInt(16)
		if info.LoopStartFrame > info.LoopEndFrame || info.LoopEndFrame >= info.FrameCount {
			return nil, fmt.Errorf("%w: loop frames %d-%d of %d", ErrFormat, info.LoopStartFrame, info.LoopEndFrame, info.FrameCount)
		}
	}

	if chunk(chunkCiph, 0x06) {
		info.EncryptionType = r.ReadInt(16)
		if info.EncryptionType != CipherNone && info.EncryptionType != CipherStatic && info.EncryptionType != CipherKeycode {
			return nil, fmt.Errorf("%w: cipher type %d", ErrFormat, info.EncryptionType)
		}
	}

	if chunk(chunkRva, 0x08) {
		info.Volume = math.Float32frombits(r.Read(32))
	}

	if chunk(chunkComm, 0x05) {
		length := r.ReadInt(8)
		if length > size {
			return nil, fmt.Errorf("%w: comment of %d bytes overruns the header", ErrFormat, length)
		}
		raw := make([]byte, length)
		for i := range raw {
			raw[i] = byte(r.Read(8))
		}
		size -= length
		comment, err := decodeComment(raw)
		if err != nil {
			return nil, err
		}
		info.Comment = comment
	}

	if err := validateHeader(info, msStereo); err != nil {
		return nil, err
	}

	info.CalculateHfrValues()
	info.SampleCount = info.FrameCount*SamplesPerFrame - info.InsertedSamples - info.AppendedSamples
	if info.Looping {
		info.SampleCount = min(info.SampleCount, info.LoopEndSample())
	}
	return info, nil
}

func validateHeader(info *Info, msStereo int) error {
	switch {
	case info.ChannelCount < 1 || info.ChannelCount > maxChannels:
		return fmt.Errorf("%w: channel count %d", ErrFormat, info.ChannelCount)
	case info.SampleRate < 1:
		return fmt.Errorf("%w: sample rate %d", ErrFormat, info.SampleRate)
	case info.FrameCount == 0:
		return fmt.Errorf("%w: no frames", ErrFormat)
	case info.FrameSize < 8:
		return fmt.Errorf("%w: frame size %d", ErrFormat, info.FrameSize)
	case info.MinResolution != 1 || info.MaxResolution != 15:
		return fmt.Errorf("%w: resolution range %d-%d", ErrFormat, info.MinResolution, info.MaxResolution)
	case msStereo != 0:
		return fmt.Errorf("%w: mid/side stereo is not supported", ErrFormat)
	}

	if info.TrackCount == 0 {
		info.TrackCount = 1
	}
	if info.TrackCount > info.ChannelCount {
		return fmt.Errorf("%w: %d tracks for %d channels", ErrFormat, info.TrackCount, info.ChannelCount)
	}
	if info.TotalBandCount > SamplesPerSubframe ||
		info.BaseBandCount+info.StereoBandCount > SamplesPerSubframe ||
		info.BandsPerHfrGroup > SamplesPerSubframe ||
		info.BaseBandCount+info.StereoBandCount > info.TotalBandCount {
		return fmt.Errorf("%w: band layout %d/%d/%d", ErrFormat, info.BaseBandCount, info.StereoBandCount, info.TotalBandCount)
	}
	return nil
}

// WriteHeader serializes info as a version 2.00 header of info.HeaderSize
// bytes. Chunk ids get their high bits set when encrypted is true.
func WriteHeader(info *Info, encrypted bool) ([]byte, error) {
	if info.HeaderSize < 8 || info.HeaderSize > 0xFFFF {
		return nil, fmt.Errorf("%w: header size %d", ErrConfig, info.HeaderSize)
	}
	data := make([]byte, info.HeaderSize)
	w := bitio.NewWriter(data[:info.HeaderSize-2])
	hw := &headerWriter{w: w, encrypted: encrypted}

	hw.chunk("HCA\x00")
	hw.field(writeVersion, 16)
	hw.field(info.HeaderSize, 16)

	hw.chunk("fmt\x00")
	hw.field(info.ChannelCount, 8)
	hw.field(info.SampleRate, 24)
	hw.field(info.FrameCount, 32)
	hw.field(info.InsertedSamples, 16)
	hw.field(info.AppendedSamples, 16)

	hw.chunk("comp")
	hw.field(info.FrameSize, 16)
	hw.field(info.MinResolution, 8)
	hw.field(info.MaxResolution, 8)
	hw.field(info.TrackCount, 8)
	hw.field(info.ChannelConfig, 8)
	hw.field(info.TotalBandCount, 8)
	hw.field(info.BaseBandCount, 8)
	hw.field(info.StereoBandCount, 8)
	hw.field(info.BandsPerHfrGroup, 8)
	hw.field(0, 16)

	if info.Looping {
		hw.chunk("loop")
		hw.field(info.LoopStartFrame, 32)
		hw.field(info.LoopEndFrame, 32)
		hw.field(info.PreLoopSamples, 16)
		hw.field(info.PostLoopSamples, 16)
	}

	hw.chunk("ciph")
	hw.field(info.EncryptionType, 16)

	if info.Volume != 1 && info.Volume != 0 {
		hw.chunk("rva\x00")
		if hw.err == nil {
			hw.err = w.Write(math.Float32bits(info.Volume), 32)
		}
	}

	if strings.TrimSpace(info.Comment) == "" {
		hw.chunk("pad")
	} else {
		raw, err := encodeComment(info.Comment)
		if err != nil {
			return nil, err
		}
		hw.chunk("comm")
		hw.field(len(raw), 8)
		for _, b := range raw {
			hw.field(int(b), 8)
		}
		hw.field(0, 8)
	}

	if hw.err != nil {
		return nil, fmt.Errorf("header does not fit in %d bytes: %w", info.HeaderSize, hw.err)
	}
	crc := crc16(data[:info.HeaderSize-2])
	data[info.HeaderSize-2] = byte(crc >> 8)
	data[info.HeaderSize-1] = byte(crc)
	return data, nil
}

// headerWriter keeps the first write error so chunk layouts read linearly.
type headerWriter struct {
	w         *bitio.Writer
	encrypted bool
	err       error
}

func (h *headerWriter) field(v, bits int) {
	if h.err == nil {
		h.err = h.w.WriteInt(v, bits)
	}
}

func (h *headerWriter) chunk(id string) {
	for i := 0; i < len(id); i++ {
		b := id[i]
		if h.encrypted && b != 0 {
			b |= 0x80
		}
		h.field(int(b), 8)
	}
}

func encodeComment(comment string) ([]byte, error) {
	s, _, err := transform.String(japanese.ShiftJIS.NewEncoder(), comment)
	if err != nil {
		return nil, fmt.Errorf("%w: comment is not representable in Shift-JIS: %v", ErrConfig, err)
	}
	if len(s) > 0xFF {
		return nil, fmt.Errorf("%w: comment is %d bytes, limit is 255", ErrConfig, len(s))
	}
	return []byte(s), nil
}

func decodeComment(raw []byte) (string, error) {
	if i := strings.IndexByte(string(raw), 0); i >= 0 {
		raw = raw[:i]
	}
	s, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		return "", fmt.Errorf("%w: comment: %v", ErrFormat, err)
	}
	return string(s), nil
}

// commentChunkLength is the space a comment adds to the header.
func commentChunkLength(comment string) (int, error) {
	if strings.TrimSpace(comment) == "" {
		return 0, nil
	}
	raw, err := encodeComment(comment)
	if err != nil {
		return 0, err
	}
	return len(raw) + 1, nil
}
