package audio

import "github.com/enijar/parley/internal/call"

// ExportWAV renders a call's audio log as one WAV recording at sampleRate.
// Entries recorded at other rates are resampled before concatenation so the
// exported timeline plays back at real speed. Returns nil for an empty log.
func ExportWAV(entries []call.AudioEntry, sampleRate int) ([]byte, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	var pcm []byte
	for _, e := range entries {
		chunk := e.PCM
		if e.SampleRate != sampleRate {
			chunk = ResamplePCM16LE(chunk, e.SampleRate, sampleRate)
		}
		pcm = append(pcm, chunk...)
	}
	return EncodeWAVPCM16LE(pcm, sampleRate)
}
