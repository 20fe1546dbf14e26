package mdct

import (
	"math"
	"math/rand"
	"sync"
	"testing"
)

func newTestMDCT(t *testing.T, bits int) *MDCT {
	t.Helper()
	size := 1 << uint(bits)
	m, err := New(bits, VorbisWindow(size), math.Sqrt(2.0/float64(size)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestDct4MatchesDirectSum(t *testing.T) {
	m := newTestMDCT(t, 7)
	rng := rand.New(rand.NewSource(1))
	input := make([]float64, m.Size())
	for i := range input {
		input[i] = rng.Float64()*2 - 1
	}
	got := make([]float64, m.Size())
	m.dct4(input, got)

	n := float64(m.Size())
	for k := 0; k < m.Size(); k++ {
		var want float64
		for i, x := range input {
			want += math.Cos(math.Pi/n*(float64(k)+0.5)*(float64(i)+0.5)) * x
		}
		want *= m.scale
		if math.Abs(got[k]-want) > 1e-9 {
			t.Fatalf("coefficient %d: got %v, want %v", k, got[k], want)
		}
	}
}

func TestPerfectReconstruction(t *testing.T) {
	for _, bits := range []int{3, 5, 7} {
		fwd := newTestMDCT(t, bits)
		inv := newTestMDCT(t, bits)
		size := fwd.Size()
		const blocks = 6

		rng := rand.New(rand.NewSource(int64(bits)))
		signal := make([]float64, size*blocks)
		for i := range signal {
			signal[i] = rng.Float64()*2 - 1
		}

		coeffs := make([]float64, size)
		out := make([]float64, size*blocks)
		for b := 0; b < blocks; b++ {
			fwd.Forward(signal[b*size:(b+1)*size], coeffs)
			inv.Inverse(coeffs, out[b*size:(b+1)*size])
		}

		// Output lags the input by one block.
		for i := 0; i < size*(blocks-1); i++ {
			if d := math.Abs(out[i+size] - signal[i]); d > 1e-12 {
				t.Fatalf("bits=%d sample %d: off by %g", bits, i, d)
			}
		}
	}
}

func TestResetClearsHistory(t *testing.T) {
	m := newTestMDCT(t, 4)
	in := make([]float64, m.Size())
	for i := range in {
		in[i] = 1
	}
	out := make([]float64, m.Size())
	m.Forward(in, out)
	m.Reset()

	zeros := make([]float64, m.Size())
	m.Forward(zeros, out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("coefficient %d = %v after reset", i, v)
		}
	}
}

func TestConcurrentConstruction(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(bits int) {
			defer wg.Done()
			size := 1 << uint(bits)
			if _, err := New(bits, VorbisWindow(size), 1); err != nil {
				errs <- err
			}
		}(i%8 + 1)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestWindowTooShort(t *testing.T) {
	if _, err := New(7, make([]float64, 64), 1); err == nil {
		t.Fatal("expected an error for a short window")
	}
}

func TestVorbisWindowIsPowerComplementary(t *testing.T) {
	w := VorbisWindow(128)
	half := len(w) / 2
	for n := 0; n < half; n++ {
		if s := w[n]*w[n] + w[n+half]*w[n+half]; math.Abs(s-1) > 1e-12 {
			t.Fatalf("w[%d]^2 + w[%d]^2 = %v", n, n+half, s)
		}
	}
}
