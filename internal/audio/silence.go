package audio

import (
	"encoding/binary"

	"parley/internal/domain"
)

// SilentClip is a header-only WAV. Playing it proves the output device is
// reachable without making a sound.
func SilentClip() domain.AudioClip {
	const (
		sampleRate = 16000
		channels   = 1
		bits       = 16
	)
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], sampleRate*channels*bits/8)
	binary.LittleEndian.PutUint16(header[32:34], channels*bits/8)
	binary.LittleEndian.PutUint16(header[34:36], bits)
	copy(header[36:40], "data")

	return domain.NewClip(header, domain.AudioFormat{
		Container:  domain.ContainerWAV,
		Codec:      domain.CodecPCMS16LE,
		SampleRate: sampleRate,
		Channels:   channels,
	})
}
