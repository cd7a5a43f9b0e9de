package audio

import "encoding/binary"

// encodeWAV wraps raw PCM16 bytes in a canonical 44-byte RIFF header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const (
		bitsPerSample = 16
		headerSize    = 44
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, headerSize+len(pcm))
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16) // PCM subchunk size
	le.PutUint16(buf[20:22], 1)  // PCM format
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(byteRate))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[headerSize:], pcm)

	return buf
}
