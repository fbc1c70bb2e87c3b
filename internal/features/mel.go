// Package features computes the log-mel spectrogram the whisper decoder
// consumes.
package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/fmueller/voxpipe/internal/audio"
	"github.com/mjibson/go-dsp/fft"
	"golang.org/x/sync/errgroup"
)

const (
	NFFT      = 400
	HopLength = 160
	NMels     = 80
	// NFrames is the frame count of one padded decode window.
	NFrames = audio.WindowSamples / HopLength
)

var (
	ErrShape       = errors.New("unexpected feature shape")
	ErrEmptySignal = errors.New("no samples to analyse")
)

type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
	// DeviceRemote marks features consumed by a hosted engine.
	DeviceRemote Device = "remote"
)

// Spectrogram is an NMels x NFrames row-major matrix of normalised log-mel
// energies. Window is the audio it was computed from.
type Spectrogram struct {
	NMels   int
	NFrames int
	Data    []float32
	Device  Device
	Window  []float32
}

func (s *Spectrogram) At(mel, frame int) float32 {
	return s.Data[mel*s.NFrames+frame]
}

// To returns the spectrogram bound to device. The matrix is shared.
func (s *Spectrogram) To(device Device) *Spectrogram {
	bound := *s
	bound.Device = device
	return &bound
}

// Validate checks the matrix dimensions against what a decoder expects.
func (s *Spectrogram) Validate(nMels, nFrames int) error {
	if s == nil {
		return fmt.Errorf("%w: nil spectrogram", ErrShape)
	}
	if s.NMels != nMels || s.NFrames != nFrames || len(s.Data) != nMels*nFrames {
		return fmt.Errorf("%w: got %dx%d (%d values), want %dx%d", ErrShape, s.NMels, s.NFrames, len(s.Data), nMels, nFrames)
	}
	return nil
}

type Options struct {
	SampleRate int
	NFFT       int
	HopLength  int
	NMels      int
	// Workers bounds the goroutines computing frames; 0 uses GOMAXPROCS.
	Workers int
}

func DefaultOptions() Options {
	return Options{
		SampleRate: audio.SampleRate,
		NFFT:       NFFT,
		HopLength:  HopLength,
		NMels:      NMels,
	}
}

// LogMel computes the log-mel spectrogram of samples. The output is a pure
// function of the input and the options.
func LogMel(ctx context.Context, samples []float32, opts Options) (*Spectrogram, error) {
	if opts.SampleRate <= 0 || opts.NFFT <= 0 || opts.HopLength <= 0 || opts.NMels <= 0 {
		return nil, fmt.Errorf("invalid feature options: %+v", opts)
	}
	if len(samples) == 0 {
		return nil, ErrEmptySignal
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	nFrames := len(samples) / opts.HopLength
	if nFrames == 0 {
		nFrames = 1
	}
	padded := reflectPad(samples, opts.NFFT/2)
	window := periodicHann(opts.NFFT)
	filters := melFilterbank(opts.SampleRate, opts.NFFT, opts.NMels)
	nBins := opts.NFFT/2 + 1

	mel := make([]float64, opts.NMels*nFrames)

	g, gctx := errgroup.WithContext(ctx)
	chunk := (nFrames + workers - 1) / workers
	for start := 0; start < nFrames; start += chunk {
		start, end := start, min(start+chunk, nFrames)
		g.Go(func() error {
			frame := make([]float64, opts.NFFT)
			power := make([]float64, nBins)
			for t := start; t < end; t++ {
				if err := gctx.Err(); err != nil {
					return err
				}

				offset := t * opts.HopLength
				for i := range frame {
					frame[i] = float64(padded[offset+i]) * window[i]
				}

				spectrum := fft.FFTReal(frame)
				for k := 0; k < nBins; k++ {
					re, im := real(spectrum[k]), imag(spectrum[k])
					power[k] = re*re + im*im
				}

				for m, row := range filters {
					var sum float64
					for k, w := range row {
						if w != 0 {
							sum += w * power[k]
						}
					}
					mel[m*nFrames+t] = sum
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compute mel frames: %w", err)
	}

	maxLog := math.Inf(-1)
	for i, v := range mel {
		l := math.Log10(math.Max(v, 1e-10))
		mel[i] = l
		if l > maxLog {
			maxLog = l
		}
	}

	floor := maxLog - 8.0
	data := make([]float32, len(mel))
	for i, l := range mel {
		data[i] = float32((math.Max(l, floor) + 4.0) / 4.0)
	}

	return &Spectrogram{
		NMels:   opts.NMels,
		NFrames: nFrames,
		Data:    data,
		Device:  DeviceCPU,
		Window:  samples,
	}, nil
}

// reflectPad mirrors pad samples on both sides without repeating the edge.
func reflectPad(samples []float32, pad int) []float32 {
	n := len(samples)
	out := make([]float32, n+2*pad)
	for i := range out {
		out[i] = samples[reflectIndex(i-pad, n)]
	}
	return out
}

func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
