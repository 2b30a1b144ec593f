package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCMFormat describes raw little-endian signed PCM as returned by TTS providers.
type PCMFormat struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// DefaultPCM is 24kHz 16-bit mono, the format Gemini and ElevenLabs pcm_24000 return.
var DefaultPCM = PCMFormat{SampleRate: 24000, BitDepth: 16, Channels: 1}

var ErrInvalidWAV = errors.New("invalid wav file")

// WriteWAV wraps raw PCM in a WAV container at path.
func WriteWAV(path string, pcm []byte, format PCMFormat) error {
	if format.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", format.BitDepth)
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm length %d is not a multiple of the sample size", len(pcm))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: format.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WAVDuration returns the playback length of the PCM data chunk. The decoder's own
// Duration counts the header bytes too, so it is computed from PCMSize instead.
func WAVDuration(r io.ReadSeeker) (time.Duration, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return 0, ErrInvalidWAV
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("read wav data chunk: %w", err)
	}
	bytesPerSecond := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSecond == 0 {
		return 0, ErrInvalidWAV
	}
	return time.Duration(int64(dec.PCMSize) * int64(time.Second) / bytesPerSecond), nil
}

// WAVFileDuration opens path and reads its duration.
func WAVFileDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return WAVDuration(f)
}
