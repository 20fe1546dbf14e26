package mdct

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
)

// Trig and shuffle tables are shared by every transform in the process.
// They only ever grow, under tableLock, and are read-only once built.
var (
	tableLock     sync.Mutex
	tableBits     = -1
	sinTables     [][]float64
	cosTables     [][]float64
	shuffleTables [][]int
)

type tableSet struct {
	sin     [][]float64
	cos     [][]float64
	shuffle []int
}

func loadTables(maxBits int) tableSet {
	tableLock.Lock()
	defer tableLock.Unlock()

	for i := tableBits + 1; i <= maxBits; i++ {
		sin, cos := generateTrigTables(i)
		sinTables = append(sinTables, sin)
		cosTables = append(cosTables, cos)
		shuffleTables = append(shuffleTables, generateShuffleTable(i))
	}
	if maxBits > tableBits {
		tableBits = maxBits
	}

	return tableSet{
		sin:     sinTables[:maxBits+1],
		cos:     cosTables[:maxBits+1],
		shuffle: shuffleTables[maxBits],
	}
}

func generateTrigTables(sizeBits int) ([]float64, []float64) {
	size := 1 << uint(sizeBits)
	sin := make([]float64, size)
	cos := make([]float64, size)
	for i := 0; i < size; i++ {
		value := math.Pi * float64(4*i+1) / float64(4*size)
		sin[i] = math.Sin(value)
		cos[i] = math.Cos(value)
	}
	return sin, cos
}

func generateShuffleTable(sizeBits int) []int {
	size := 1 << uint(sizeBits)
	table := make([]int, size)
	for i := 0; i < size; i++ {
		table[i] = bitReverse(i^(i/2), sizeBits)
	}
	return table
}

func bitReverse(value, bitCount int) int {
	if bitCount == 0 {
		return 0
	}
	return int(bits.Reverse32(uint32(value)) >> uint(32-bitCount))
}

// MDCT is a windowed modified DCT of size 2^bits with overlap history.
// One instance per channel; calls must arrive in temporal order.
type MDCT struct {
	bits   int
	size   int
	scale  float64
	window []float64
	tables tableSet

	mdctPrevious  []float64
	imdctPrevious []float64
	scratchMdct   []float64
	scratchDct    []float64
}

// New builds a transform of size 1<<mdctBits. The window must hold at least
// that many values and is shared by the forward and inverse transforms.
func New(mdctBits int, window []float64, scale float64) (*MDCT, error) {
	if mdctBits < 1 || mdctBits > 16 {
		return nil, fmt.Errorf("mdct: unsupported size 2^%d", mdctBits)
	}
	size := 1 << uint(mdctBits)
	if len(window) < size {
		return nil, fmt.Errorf("mdct: window has %d values, need %d", len(window), size)
	}

	return &MDCT{
		bits:          mdctBits,
		size:          size,
		scale:         scale,
		window:        window,
		tables:        loadTables(mdctBits),
		mdctPrevious:  make([]float64, size),
		imdctPrevious: make([]float64, size),
		scratchMdct:   make([]float64, size),
		scratchDct:    make([]float64, size),
	}, nil
}

func (m *MDCT) Size() int { return m.size }

// Reset clears the overlap history of both directions.
func (m *MDCT) Reset() {
	clear(m.mdctPrevious)
	clear(m.imdctPrevious)
}

// Forward transforms size new time samples into size coefficients,
// using the previous call's input as the first half of the window.
func (m *MDCT) Forward(input, output []float64) {
	size := m.size
	half := size / 2
	input = input[:size]
	output = output[:size]
	w := m.window
	prev := m.mdctPrevious
	dctIn := m.scratchMdct

	for i := 0; i < half; i++ {
		a := w[half-i-1] * -input[half+i]
		b := w[half+i] * input[half-i-1]
		c := w[i] * prev[i]
		d := w[size-i-1] * prev[size-i-1]

		dctIn[i] = a - b
		dctIn[half+i] = c - d
	}

	m.dct4(dctIn, output)
	copy(prev, input)
}

// Inverse transforms size coefficients into size time samples, overlap-adding
// with the tail kept from the previous call.
func (m *MDCT) Inverse(input, output []float64) {
	size := m.size
	half := size / 2
	input = input[:size]
	output = output[:size]
	w := m.window
	prev := m.imdctPrevious
	dctOut := m.scratchMdct

	m.dct4(input, dctOut)

	for i := 0; i < half; i++ {
		output[i] = w[i]*dctOut[i+half] + prev[i]
		output[i+half] = w[i+half]*-dctOut[size-1-i] - prev[i+half]
		prev[i] = w[size-1-i] * -dctOut[half-i-1]
		prev[i+half] = w[half-i-1] * dctOut[i]
	}
}

// dct4 is a type-IV DCT computed with log2(size)-1 butterfly stages.
func (m *MDCT) dct4(input, output []float64) {
	sinTable := m.tables.sin[m.bits]
	cosTable := m.tables.cos[m.bits]
	shuffle := m.tables.shuffle
	temp := m.scratchDct

	size := m.size
	last := size - 1
	half := size / 2

	for i := 0; i < half; i++ {
		i2 := i * 2
		a := input[i2]
		b := input[last-i2]
		sin := sinTable[i]
		cos := cosTable[i]
		temp[i2] = a*cos + b*sin
		temp[i2+1] = a*sin - b*cos
	}

	stageCount := m.bits - 1
	for stage := 0; stage < stageCount; stage++ {
		blockCount := 1 << uint(stage)
		blockSizeBits := stageCount - stage
		blockHalfSizeBits := blockSizeBits - 1
		blockSize := 1 << uint(blockSizeBits)
		blockHalfSize := 1 << uint(blockHalfSizeBits)
		sinTable = m.tables.sin[blockHalfSizeBits]
		cosTable = m.tables.cos[blockHalfSizeBits]

		for block := 0; block < blockCount; block++ {
			for i := 0; i < blockHalfSize; i++ {
				front := (block*blockSize + i) * 2
				back := front + blockSize
				a := temp[front] - temp[back]
				b := temp[front+1] - temp[back+1]
				sin := sinTable[i]
				cos := cosTable[i]
				temp[front] += temp[back]
				temp[front+1] += temp[back+1]
				temp[back] = a*cos + b*sin
				temp[back+1] = a*sin - b*cos
			}
		}
	}

	for i := 0; i < size; i++ {
		output[i] = temp[shuffle[i]] * m.scale
	}
}

// VorbisWindow returns the power-complementary window
// sin(pi/2 * sin^2(pi*(n+0.5)/(2*size))), which satisfies the
// Princen-Bradley condition for this transform.
func VorbisWindow(size int) []float64 {
	w := make([]float64, size)
	for n := range w {
		s := math.Sin(math.Pi * (float64(n) + 0.5) / float64(2*size))
		w[n] = math.Sin(math.Pi / 2 * s * s)
	}
	return w
}
