package crihca

import (
	"fmt"
	"slices"
	"sync"

	"haruki-hca-codec/utils/bitio"
)

const (
	CipherNone    = 0
	CipherStatic  = 1
	CipherKeycode = 56
)

// Frames tested per candidate key by FindKey.
const framesToTest = 10

// Key is a frame substitution cipher. Bytes 0x00 and 0xFF always map to
// themselves, which keeps the sync word readable.
type Key struct {
	Type    int
	Keycode uint64

	encrypt [256]byte
	decrypt [256]byte
}

func NewKey(cipherType int, keycode uint64) (*Key, error) {
	k := &Key{Type: cipherType, Keycode: keycode}
	switch {
	case cipherType == CipherNone, cipherType == CipherKeycode && keycode == 0:
		initIdentityTable(&k.decrypt)
	case cipherType == CipherStatic:
		initStaticTable(&k.decrypt)
	case cipherType == CipherKeycode:
		initKeycodeTable(&k.decrypt, keycode)
	default:
		return nil, fmt.Errorf("%w: cipher type %d", ErrConfig, cipherType)
	}
	for i, v := range k.decrypt {
		k.encrypt[v] = byte(i)
	}
	return k, nil
}

func (k *Key) String() string {
	if k.Type == CipherKeycode {
		return fmt.Sprintf("type %d keycode %d", k.Type, k.Keycode)
	}
	return fmt.Sprintf("type %d", k.Type)
}

// MixSubkey combines a keycode with the per-file subkey used by AWB
// archives.
func MixSubkey(keycode uint64, subkey uint16) uint64 {
	if subkey == 0 {
		return keycode
	}
	return keycode * (uint64(subkey)<<16 | (uint64(^subkey) + 2))
}

func initIdentityTable(table *[256]byte) {
	for i := range table {
		table[i] = byte(i)
	}
}

func initStaticTable(table *[256]byte) {
	const mul, add = 13, 11
	v := 0
	for i := 1; i < 255; i++ {
		v = (v*mul + add) & 0xFF
		if v == 0 || v == 0xFF {
			v = (v*mul + add) & 0xFF
		}
		table[i] = byte(v)
	}
	table[0] = 0
	table[0xFF] = 0xFF
}

func keycodeRow(key byte) [16]byte {
	var row [16]byte
	mul := (key&1)<<3 | 5
	add := key&0xE | 1
	key >>= 4
	for i := range row {
		key = (key*mul + add) & 0xF
		row[i] = key
	}
	return row
}

func initKeycodeTable(table *[256]byte, keycode uint64) {
	if keycode != 0 {
		keycode--
	}
	var kc [7]byte
	for i := range kc {
		kc[i] = byte(keycode)
		keycode >>= 8
	}

	seed := [16]byte{
		kc[1], kc[1] ^ kc[6],
		kc[2] ^ kc[3], kc[2],
		kc[2] ^ kc[1], kc[3] ^ kc[4],
		kc[3], kc[3] ^ kc[2],
		kc[4] ^ kc[5], kc[4],
		kc[4] ^ kc[3], kc[5] ^ kc[6],
		kc[5], kc[5] ^ kc[4],
		kc[6] ^ kc[1], kc[6],
	}

	var base [256]byte
	rows := keycodeRow(kc[0])
	for r := 0; r < 16; r++ {
		cols := keycodeRow(seed[r])
		high := rows[r] << 4
		for c := 0; c < 16; c++ {
			base[r*16+c] = high | cols[c]
		}
	}

	x := 0
	pos := 1
	for i := 0; i < 256; i++ {
		x = (x + 17) & 0xFF
		if base[x] != 0 && base[x] != 0xFF {
			table[pos] = base[x]
			pos++
		}
	}
	table[0] = 0
	table[0xFF] = 0xFF
}

var (
	keyLock  sync.RWMutex
	keycodes []uint64
)

// RegisterKeycode adds a type 56 keycode to the table searched by FindKey.
func RegisterKeycode(keycode uint64) {
	keyLock.Lock()
	defer keyLock.Unlock()
	if !slices.Contains(keycodes, keycode) {
		keycodes = append(keycodes, keycode)
	}
}

// Keys returns the key table: the static type 1 key, then every registered
// keycode in registration order.
func Keys() []*Key {
	keyLock.RLock()
	codes := slices.Clone(keycodes)
	keyLock.RUnlock()

	keys := make([]*Key, 0, len(codes)+1)
	static, _ := NewKey(CipherStatic, 0)
	keys = append(keys, static)
	for _, code := range codes {
		k, _ := NewKey(CipherKeycode, code)
		keys = append(keys, k)
	}
	return keys
}

// CryptFrame substitutes every byte before the checksum and rewrites the
// checksum.
func CryptFrame(info *Info, frame []byte, key *Key, decrypt bool) error {
	size := info.FrameSize
	if len(frame) < size || size < 2 {
		return fmt.Errorf("%w: frame has %d bytes, want %d", ErrFormat, len(frame), size)
	}
	table := &key.encrypt
	if decrypt {
		table = &key.decrypt
	}
	data := frame[:size-2]
	for i, b := range data {
		data[i] = table[b]
	}
	crc := crc16(data)
	frame[size-2] = byte(crc >> 8)
	frame[size-1] = byte(crc)
	return nil
}

// Encrypt encrypts frames in place and marks the stream with the key type.
func Encrypt(info *Info, frames [][]byte, key *Key) error {
	for i, frame := range frames {
		if err := CryptFrame(info, frame, key, false); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	info.EncryptionType = key.Type
	return nil
}

// Decrypt reverses Encrypt.
func Decrypt(info *Info, frames [][]byte, key *Key) error {
	for i, frame := range frames {
		if err := CryptFrame(info, frame, key, true); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	info.EncryptionType = CipherNone
	return nil
}

// FindKey tries every key in the table and returns the first one under
// which the leading non-silent frames all unpack cleanly. Keys of another
// type than the one the header declares are skipped.
func FindKey(info *Info, frames [][]byte) (*Key, error) {
	frame, err := NewFrame(info)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.FrameSize)
	for _, key := range Keys() {
		if info.EncryptionType != CipherNone && key.Type != info.EncryptionType {
			continue
		}
		if testKey(frame, frames, key, buf) {
			return key, nil
		}
	}
	return nil, ErrKeyNotFound
}

func testKey(frame *Frame, frames [][]byte, key *Key, buf []byte) bool {
	start := firstNonEmptyFrame(frames)
	end := min(len(frames), start+framesToTest)
	reader := bitio.NewReader(nil)
	for i := start; i < end; i++ {
		if len(frames[i]) < len(buf) {
			return false
		}
		copy(buf, frames[i])
		if err := CryptFrame(frame.Info, buf, key, true); err != nil {
			return false
		}
		reader.Reset(buf)
		ok, err := Unpack(frame, reader)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func firstNonEmptyFrame(frames [][]byte) int {
	for i, f := range frames {
		if !frameBytesEmpty(f) {
			return i
		}
	}
	return 0
}

func frameBytesEmpty(frame []byte) bool {
	if len(frame) < 4 {
		return true
	}
	for _, b := range frame[2 : len(frame)-2] {
		if b != 0 {
			return false
		}
	}
	return true
}
