package crihca

import (
	"errors"
	"fmt"
	"io"
	"os"

	harukiLogger "haruki-hca-codec/utils/logger"
	"haruki-hca-codec/utils/wav"
)

var logger = harukiLogger.NewLogger("HCACodec", "INFO", nil)

// HCADecoder wraps Decoder with streaming over a file or io.ReadSeeker
type HCADecoder struct {
	file    *os.File
	reader  io.ReadSeeker
	info    *Info
	decoder *Decoder
	key     *Key
	buf     []byte
	block   [][]int16
	pcm     []int16

	currentFrame int
	// next output sample, counted after the inserted samples are dropped
	position int
}

// KeyTest holds parameters for testing HCA decryption keys
type KeyTest struct {
	Key         uint64
	Subkey      uint16
	StartOffset int64
	BestScore   int
	BestKey     uint64
}

const (
	hcaKeyScoreScale    = 10
	hcaKeyMaxSkipBlanks = 1200
	hcaKeyMinTestFrames = 3
	hcaKeyMaxTestFrames = 7
	hcaKeyMaxFrameScore = 600
	hcaKeyMaxTotalScore = hcaKeyMaxTestFrames * 50 * hcaKeyScoreScale
)

// NewHCADecoder creates a new HCA decoder from a file
func NewHCADecoder(filename string) (*HCADecoder, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	decoder, err := NewHCADecoderFromReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	decoder.file = file
	return decoder, nil
}

// NewHCADecoderFromReader creates a new HCA decoder from an io.ReadSeeker
func NewHCADecoderFromReader(reader io.ReadSeeker) (*HCADecoder, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(reader, head); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	headerSize, err := HeaderSize(head)
	if err != nil {
		return nil, err
	}

	fullHeader := make([]byte, headerSize)
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, fullHeader); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}

	info, err := ParseHeader(fullHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	dec, err := NewDecoder(info)
	if err != nil {
		return nil, err
	}

	d := &HCADecoder{
		reader:  reader,
		info:    info,
		decoder: dec,
		buf:     make([]byte, info.FrameSize),
		block:   makePcm(info.ChannelCount, SamplesPerFrame),
		pcm:     make([]int16, info.ChannelCount*SamplesPerFrame),
	}
	if info.EncryptionType == CipherStatic {
		d.key, _ = NewKey(CipherStatic, 0)
	}
	logger.Debugf("opened HCA v%d.%02d: %d ch %d Hz, %d frames of %d bytes, cipher %d",
		info.Version>>8, info.Version&0xFF, info.ChannelCount, info.SampleRate,
		info.FrameCount, info.FrameSize, info.EncryptionType)
	return d, nil
}

// Reset rewinds the decoder to the first sample
func (d *HCADecoder) Reset() {
	d.decoder.Reset()
	d.currentFrame = 0
	d.position = 0
}

// Close closes the decoder and associated file
func (d *HCADecoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// Info returns the HCA file information
func (d *HCADecoder) Info() *Info {
	return d.info
}

// SetEncryptionKey sets the type 56 keycode. Streams using the static
// cipher ignore it.
func (d *HCADecoder) SetEncryptionKey(keycode uint64, subkey uint16) {
	if d.info.EncryptionType == CipherStatic {
		return
	}
	d.key, _ = NewKey(CipherKeycode, MixSubkey(keycode, subkey))
}

// SetKey sets the key used for decryption directly.
func (d *HCADecoder) SetKey(key *Key) {
	d.key = key
}

func (d *HCADecoder) frameOffset(frame int) int64 {
	return int64(d.info.HeaderSize) + int64(frame)*int64(d.info.FrameSize)
}

// readPacket reads the frame at index frame into buf, checks its CRC and
// decrypts it.
func (d *HCADecoder) readPacket(frame int, buf []byte, key *Key) error {
	if frame >= d.info.FrameCount {
		return io.EOF
	}
	if _, err := d.reader.Seek(d.frameOffset(frame), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(d.reader, buf); err != nil {
		return fmt.Errorf("%w: frame %d: %v", ErrFormat, frame, err)
	}
	if crc16(buf) != 0 {
		return fmt.Errorf("%w: frame %d", ErrChecksum, frame)
	}
	if d.info.EncryptionType != CipherNone {
		if key == nil {
			return fmt.Errorf("%w: stream uses cipher type %d", ErrKeyNotFound, d.info.EncryptionType)
		}
		return CryptFrame(d.info, buf, key, true)
	}
	return nil
}

// DecodeFrame decodes the next frame and returns interleaved samples and
// the number of samples per channel. Samples before the start of the
// stream or past its end are not returned, so the count can be 0.
func (d *HCADecoder) DecodeFrame() ([]int16, int, error) {
	if err := d.readPacket(d.currentFrame, d.buf, d.key); err != nil {
		return nil, 0, err
	}
	if err := d.decoder.DecodeFrame(d.buf, d.block); err != nil {
		return nil, 0, fmt.Errorf("decode failed: %w", err)
	}

	frameStart := d.currentFrame*SamplesPerFrame - d.info.InsertedSamples
	d.currentFrame++

	start := max(0, d.position-frameStart)
	end := min(SamplesPerFrame, d.info.SampleCount-frameStart)
	if end <= start {
		return d.pcm[:0], 0, nil
	}
	channels := d.info.ChannelCount
	n := end - start
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			d.pcm[i*channels+c] = d.block[c][start+i]
		}
	}
	d.position += n
	return d.pcm[:n*channels], n, nil
}

// DecodeAll decodes the entire HCA file and returns all samples
// interleaved.
func (d *HCADecoder) DecodeAll() ([]int16, error) {
	d.Reset()
	all := make([]int16, 0, d.info.SampleCount*d.info.ChannelCount)
	for {
		samples, _, err := d.DecodeFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		all = append(all, samples...)
	}
	return all, nil
}

// Seek positions the decoder so that the next DecodeFrame starts at sample.
// The frame before the target is decoded and discarded to restore the
// overlap state of the transform.
func (d *HCADecoder) Seek(sample int) error {
	if sample < 0 || sample > d.info.SampleCount {
		return fmt.Errorf("%w: seek to sample %d of %d", ErrConfig, sample, d.info.SampleCount)
	}
	target := (sample + d.info.InsertedSamples) / SamplesPerFrame
	d.decoder.Reset()
	if target > 0 && target <= d.info.FrameCount {
		if err := d.readPacket(target-1, d.buf, d.key); err != nil {
			return err
		}
		if err := d.decoder.DecodeFrame(d.buf, d.block); err != nil {
			return fmt.Errorf("decode failed: %w", err)
		}
	}
	d.currentFrame = target
	d.position = sample
	return nil
}

// SeekLoopStart seeks to the loop start of a looping stream, or to the
// beginning otherwise.
func (d *HCADecoder) SeekLoopStart() error {
	if !d.info.Looping {
		return d.Seek(0)
	}
	return d.Seek(d.info.LoopStartSample())
}

// DecodeToWav decodes the entire file to a 16-bit WAV stream. Looping
// streams carry their loop in a smpl chunk.
func (d *HCADecoder) DecodeToWav(w io.Writer) error {
	d.Reset()
	out := wav.NewWriter(w, wav.Format{Channels: d.info.ChannelCount, SampleRate: d.info.SampleRate})
	if d.info.Looping {
		out.SetLoop(&wav.Loop{Start: d.info.LoopStartSample(), End: d.info.LoopEndSample()})
	}
	for {
		samples, _, err := d.DecodeFrame()
		if errors.Is(err, io.EOF) {
			return out.Close()
		}
		if err != nil {
			return err
		}
		if err := out.WriteSamples(samples); err != nil {
			return err
		}
	}
}

// ScoreKey rates how plausible the decoded audio is under keycode.
// Returns: <0: wrong key, 0: unknown/silent, >0: good (closer to 1 is better)
func (d *HCADecoder) ScoreKey(keycode uint64, subkey uint16) int {
	kt := &KeyTest{Key: keycode, Subkey: subkey}
	return d.testHCAScore(kt)
}

// TestKey tests if a key correctly decrypts the HCA file
func (d *HCADecoder) TestKey(kt *KeyTest) {
	score := d.testHCAScore(kt)

	// Wrong key
	if score < 0 {
		return
	}

	if kt.BestScore <= 0 || (score < kt.BestScore && score > 0) {
		kt.BestScore = score
		kt.BestKey = kt.Key
	}
}

// GuessKey scores every registered keycode and keeps the best one as the
// decryption key.
func (d *HCADecoder) GuessKey(subkey uint16) (*Key, error) {
	if d.info.EncryptionType != CipherKeycode {
		if d.key == nil {
			d.key, _ = NewKey(d.info.EncryptionType, 0)
		}
		return d.key, nil
	}
	kt := &KeyTest{Subkey: subkey}
	for _, key := range Keys() {
		if key.Type != CipherKeycode {
			continue
		}
		kt.Key = key.Keycode
		d.TestKey(kt)
		if kt.BestScore == 1 {
			break
		}
	}
	if kt.BestScore <= 0 {
		return nil, ErrKeyNotFound
	}
	logger.Debugf("keycode %d scored %d", kt.BestKey, kt.BestScore)
	d.SetEncryptionKey(kt.BestKey, subkey)
	return d.key, nil
}

// testHCAScore tests a number of frames to see if key decrypts correctly
func (d *HCADecoder) testHCAScore(kt *KeyTest) int {
	key, _ := NewKey(CipherKeycode, MixSubkey(kt.Key, kt.Subkey))
	if d.info.EncryptionType == CipherStatic {
		key, _ = NewKey(CipherStatic, 0)
	}
	dec, err := NewDecoder(d.info)
	if err != nil {
		return -1
	}

	testFrames := 0
	blankFrames := 0
	totalScore := 0
	buf := make([]byte, d.info.FrameSize)

	frame := 0
	if kt.StartOffset > 0 {
		frame = int((kt.StartOffset - int64(d.info.HeaderSize)) / int64(d.info.FrameSize))
	}

	for testFrames < hcaKeyMaxTestFrames && frame < d.info.FrameCount {
		if _, err := d.reader.Seek(d.frameOffset(frame), io.SeekStart); err != nil {
			break
		}
		if _, err := io.ReadFull(d.reader, buf); err != nil {
			break
		}

		score := scoreFrame(dec, buf, key)

		// Get first non-blank frame
		if kt.StartOffset == 0 && score != 0 {
			kt.StartOffset = d.frameOffset(frame)
		}
		frame++

		if score < 0 || score > hcaKeyMaxFrameScore {
			totalScore = -1
			break
		}

		// Ignore silent frames at the beginning
		if score == 0 && blankFrames < hcaKeyMaxSkipBlanks {
			blankFrames++
			continue
		}

		testFrames++

		switch score {
		case 1:
		case 0:
			score = 3 * hcaKeyScoreScale
		default:
			score *= hcaKeyScoreScale
		}
		totalScore += score

		// Don't bother checking more frames
		if totalScore > hcaKeyMaxTotalScore {
			break
		}
	}

	// Signal best possible score
	if testFrames > hcaKeyMinTestFrames && totalScore > 0 && totalScore <= testFrames {
		totalScore = 1
	}
	return totalScore
}

// scoreFrame decrypts and decodes one frame. Returns -1 when it does not
// unpack, 0 when it is silent, 1 when it looks like audio and larger values
// for clipping or lopsided channels.
func scoreFrame(dec *Decoder, data []byte, key *Key) int {
	if frameBytesEmpty(data) {
		return 0
	}
	if crc16(data) != 0 {
		return -1
	}
	if err := CryptFrame(dec.info, data, key, true); err != nil {
		return -1
	}
	dec.reader.Reset(data)
	ok, err := Unpack(dec.frame, dec.reader)
	if err != nil || !ok {
		return -1
	}
	dec.synthesize()
	return evaluateDecodeQuality(dec.frame)
}

func evaluateDecodeQuality(f *Frame) int {
	clips := 0
	blanks := 0
	channelBlanks := make([]int, len(f.Channels))

	for c, ch := range f.Channels {
		for sf := 0; sf < SubframesPerFrame; sf++ {
			for _, v := range ch.PcmFloat[sf] {
				if v > 1 || v < -1 {
					clips++
					continue
				}
				if s := int32(v * 32768); s == 0 || s == -1 {
					blanks++
					channelBlanks[c]++
				}
			}
		}
	}
	return calculateScore(clips, blanks, channelBlanks)
}

func calculateScore(clips, blanks int, channelBlanks []int) int {
	if clips == 1 {
		clips++
	}
	if clips > 1 {
		return clips
	}
	if blanks == len(channelBlanks)*SamplesPerFrame {
		return 0
	}
	if len(channelBlanks) >= 2 && channelBlanks[0] == SamplesPerFrame && channelBlanks[1] != SamplesPerFrame {
		return 3
	}
	return 1
}
