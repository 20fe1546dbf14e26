package wav

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"haruki-hca-codec/utils"
)

const (
	formatPCM         = 1
	formatExtensible  = 0xFFFE
	bitsPerSample     = 16
	headerSize        = 44
	samplerHeaderSize = 36
	sampleLoopSize    = 24
)

var ErrUnsupported = errors.New("unsupported wav")

type Format struct {
	Channels   int
	SampleRate int
}

// Loop is a forward loop in samples per channel. End is exclusive.
type Loop struct {
	Start int
	End   int
}

// File is a decoded 16-bit PCM wave file with one slice per channel.
type File struct {
	Format
	Samples [][]int16
	// Loop comes from the first loop of a smpl chunk.
	Loop *Loop
}

// SampleCount is the number of samples per channel.
func (f *File) SampleCount() int {
	if len(f.Samples) == 0 {
		return 0
	}
	return len(f.Samples[0])
}

// Read decodes a 16-bit PCM RIFF/WAVE file, including its smpl loop.
func Read(r io.ReadSeeker) (*File, error) {
	d := gowav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return nil, fmt.Errorf("%w: no fmt chunk", ErrUnsupported)
	}
	if (d.WavAudioFormat != formatPCM && d.WavAudioFormat != formatExtensible) || d.BitDepth != bitsPerSample {
		return nil, fmt.Errorf("%w: format %#x with %d bits per sample", ErrUnsupported, d.WavAudioFormat, d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil || buf == nil {
		return nil, fmt.Errorf("%w: no readable data chunk: %v", ErrUnsupported, err)
	}

	chunks, err := scanChunks(r)
	if err != nil {
		return nil, err
	}
	if chunks.dataSize < 0 {
		return nil, fmt.Errorf("%w: no data chunk", ErrUnsupported)
	}
	data := buf.Data
	if n := chunks.dataSize / 2; n < len(data) {
		data = data[:n]
	}

	f := &File{
		Format:  Format{Channels: int(d.NumChans), SampleRate: int(d.SampleRate)},
		Samples: deinterleaveInts(data, int(d.NumChans)),
	}
	if l := chunks.loop; l != nil {
		l.End = min(l.End, f.SampleCount())
		if l.Start < l.End {
			f.Loop = l
		}
	}
	return f, nil
}

type chunkInfo struct {
	dataSize int
	loop     *Loop
}

// scanChunks walks the chunk list for the data size and the smpl loop.
func scanChunks(r io.ReadSeeker) (chunkInfo, error) {
	info := chunkInfo{dataSize: -1}
	if _, err := r.Seek(12, io.SeekStart); err != nil {
		return info, err
	}
	bs := utils.NewBinaryStream(r, "little")
	for {
		id, err := bs.ReadFourCC()
		if err != nil {
			return info, nil
		}
		size, err := bs.ReadUInt32()
		if err != nil {
			return info, nil
		}
		switch id {
		case "data":
			info.dataSize = int(size)
			err = bs.Skip(int64(size))
		case "smpl":
			var body []byte
			if body, err = bs.ReadBytes(int(size)); err != nil {
				return info, fmt.Errorf("%w: truncated smpl chunk", ErrUnsupported)
			}
			info.loop, err = readSampler(body)
		default:
			err = bs.Skip(int64(size))
		}
		if err != nil {
			return info, err
		}
		if err := bs.AlignStream(2); err != nil {
			return info, err
		}
	}
}

func readSampler(body []byte) (*Loop, error) {
	if len(body) < samplerHeaderSize {
		return nil, fmt.Errorf("%w: smpl chunk of %d bytes", ErrUnsupported, len(body))
	}
	bs := utils.NewBinaryStream(bytes.NewReader(body), "little")
	_ = bs.Skip(28)
	count, _ := bs.ReadUInt32()
	if count == 0 {
		return nil, nil
	}
	if len(body) < samplerHeaderSize+sampleLoopSize {
		return nil, fmt.Errorf("%w: smpl chunk declares %d loops in %d bytes", ErrUnsupported, count, len(body))
	}
	// sampler data, cue id, loop type
	_ = bs.Skip(12)
	start, _ := bs.ReadUInt32()
	end, _ := bs.ReadUInt32()
	return &Loop{Start: int(start), End: int(end) + 1}, nil
}

// Writer streams interleaved samples into a 16-bit PCM file. Targets that
// cannot seek are buffered in memory until Close.
type Writer struct {
	out    io.Writer
	ws     io.WriteSeeker
	mem    *seekBuffer
	enc    *gowav.Encoder
	format *audio.Format
	loop   *Loop
	data   []int
	wrote  bool
}

func NewWriter(w io.Writer, f Format) *Writer {
	ws, ok := w.(io.WriteSeeker)
	var mem *seekBuffer
	if !ok {
		mem = &seekBuffer{}
		ws = mem
	}
	return &Writer{
		out:    w,
		ws:     ws,
		mem:    mem,
		enc:    gowav.NewEncoder(ws, f.SampleRate, bitsPerSample, f.Channels, formatPCM),
		format: &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
	}
}

// SetLoop adds a smpl chunk with one forward loop when the file is closed.
func (w *Writer) SetLoop(l *Loop) {
	w.loop = l
}

// WriteSamples appends interleaved samples.
func (w *Writer) WriteSamples(interleaved []int16) error {
	if cap(w.data) < len(interleaved) {
		w.data = make([]int, len(interleaved))
	}
	data := w.data[:len(interleaved)]
	for i, s := range interleaved {
		data[i] = int(s)
	}
	w.wrote = true
	if err := w.enc.Write(&audio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: bitsPerSample}); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}
	return nil
}

// Close finalizes the header sizes and writes the loop chunk.
func (w *Writer) Close() error {
	if !w.wrote {
		if err := w.WriteSamples(nil); err != nil {
			return err
		}
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("finishing wav: %w", err)
	}
	if w.loop != nil {
		if err := w.writeSampler(); err != nil {
			return fmt.Errorf("writing smpl chunk: %w", err)
		}
	}
	if w.mem != nil {
		_, err := w.out.Write(w.mem.data)
		return err
	}
	return nil
}

func (w *Writer) writeSampler() error {
	end, err := w.ws.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	bw := utils.NewBinaryWriter(w.ws, "little")
	bw.WriteFourCC("smpl")
	bw.WriteUInt32(samplerHeaderSize + sampleLoopSize)
	bw.WriteUInt32(0) // manufacturer
	bw.WriteUInt32(0) // product
	bw.WriteUInt32(uint32(1_000_000_000 / max(w.format.SampleRate, 1)))
	bw.WriteUInt32(60) // MIDI unity note
	bw.WriteUInt32(0)
	bw.WriteUInt32(0)
	bw.WriteUInt32(0)
	bw.WriteUInt32(1) // loop count
	bw.WriteUInt32(0)
	bw.WriteUInt32(0) // cue id
	bw.WriteUInt32(0) // forward
	bw.WriteUInt32(uint32(w.loop.Start))
	bw.WriteUInt32(uint32(w.loop.End - 1))
	bw.WriteUInt32(0)
	bw.WriteUInt32(0) // play forever
	if err := bw.Err(); err != nil {
		return err
	}
	riffSize := end + 8 + samplerHeaderSize + sampleLoopSize - 8
	if _, err := w.ws.Seek(4, io.SeekStart); err != nil {
		return err
	}
	bw.WriteUInt32(uint32(riffSize))
	if err := bw.Err(); err != nil {
		return err
	}
	_, err = w.ws.Seek(0, io.SeekEnd)
	return err
}

// Write writes a whole file from per-channel samples.
func Write(w io.Writer, f *File) error {
	ww := NewWriter(w, f.Format)
	ww.SetLoop(f.Loop)
	if err := ww.WriteSamples(Interleave(f.Samples)); err != nil {
		return err
	}
	return ww.Close()
}

// seekBuffer is an in-memory io.WriteSeeker for the encoder, which patches
// chunk sizes after the samples are written.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("negative position %d", pos)
	}
	b.pos = int(pos)
	return pos, nil
}

func Interleave(channels [][]int16) []int16 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]int16, n*len(channels))
	for c, ch := range channels {
		for i, s := range ch[:n] {
			out[i*len(channels)+c] = s
		}
	}
	return out
}

func Deinterleave(interleaved []int16, channels int) [][]int16 {
	n := len(interleaved) / channels
	out := make([][]int16, channels)
	for c := range out {
		out[c] = make([]int16, n)
		for i := range out[c] {
			out[c][i] = interleaved[i*channels+c]
		}
	}
	return out
}

func deinterleaveInts(interleaved []int, channels int) [][]int16 {
	n := len(interleaved) / channels
	out := make([][]int16, channels)
	for c := range out {
		out[c] = make([]int16, n)
		for i := range out[c] {
			out[c][i] = int16(interleaved[i*channels+c])
		}
	}
	return out
}
