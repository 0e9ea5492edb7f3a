package audio

import "encoding/binary"

// ResamplePCM16LE converts PCM16LE mono audio from srcRate to dstRate using
// nearest-sample mapping. Good enough for speech recordings; no filtering.
func ResamplePCM16LE(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(pcm) < 2 {
		return pcm
	}

	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstSamples*2)
	for i := 0; i < dstSamples; i++ {
		srcIdx := int(int64(i) * int64(srcRate) / int64(dstRate))
		if srcIdx >= srcSamples {
			srcIdx = srcSamples - 1
		}
		s := binary.LittleEndian.Uint16(pcm[srcIdx*2:])
		binary.LittleEndian.PutUint16(out[i*2:], s)
	}
	return out
}
