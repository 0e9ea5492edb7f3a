package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/enijar/parley/internal/call"
)

func pcmSamples(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := pcmSamples(1, 2, 3, 4)
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE error: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("bad container magic: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("payload mismatch")
	}
}

func TestResamplePCM16LEHalvesRate(t *testing.T) {
	src := pcmSamples(10, 20, 30, 40)
	out := ResamplePCM16LE(src, 32000, 16000)
	want := pcmSamples(10, 30)
	if !bytes.Equal(out, want) {
		t.Fatalf("out = %v, want %v", out, want)
	}
}

func TestResamplePCM16LESameRateIsIdentity(t *testing.T) {
	src := pcmSamples(1, 2, 3)
	out := ResamplePCM16LE(src, 16000, 16000)
	if !bytes.Equal(out, src) {
		t.Fatalf("same-rate resample should be identity")
	}
}

func TestExportWAVMixedRates(t *testing.T) {
	entries := []call.AudioEntry{
		{Role: call.RoleUser, SampleRate: 16000, PCM: pcmSamples(1, 2)},
		{Role: call.RoleAssistant, SampleRate: 32000, PCM: pcmSamples(3, 4, 5, 6)},
	}
	wav, err := ExportWAV(entries, 16000)
	if err != nil {
		t.Fatalf("ExportWAV error: %v", err)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	// 2 user samples plus 4 assistant samples downsampled to 2.
	want := pcmSamples(1, 2, 3, 5)
	if !bytes.Equal(wav[44:], want) {
		t.Fatalf("payload = %v, want %v", wav[44:], want)
	}
}

func TestExportWAVNonIntegerRateRatio(t *testing.T) {
	// 441 samples at 44.1kHz are 10ms, which is 160 samples at 16kHz.
	hiRate := make([]byte, 441*2)
	entries := []call.AudioEntry{
		{Role: call.RoleUser, SampleRate: 16000, PCM: pcmSamples(1, 2, 3)},
		{Role: call.RoleAssistant, SampleRate: 44100, PCM: hiRate},
	}
	wav, err := ExportWAV(entries, 16000)
	if err != nil {
		t.Fatalf("ExportWAV error: %v", err)
	}
	wantData := (3 + 160) * 2
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(wantData) {
		t.Fatalf("data size = %d, want %d", got, wantData)
	}
}

func TestExportWAVEmptyLog(t *testing.T) {
	wav, err := ExportWAV(nil, 16000)
	if err != nil {
		t.Fatalf("ExportWAV error: %v", err)
	}
	if wav != nil {
		t.Fatalf("empty log should export nil, got %d bytes", len(wav))
	}
}
