package domain

import (
	"bytes"
	"io"
	"os"
)

// Container and codec names used in AudioFormat.
const (
	ContainerWebM = "webm"
	ContainerWAV  = "wav"
	ContainerMP3  = "mp3"
	ContainerRaw  = "s16le"

	CodecOpus     = "opus"
	CodecPCMS16LE = "pcm_s16le"
	CodecMP3      = "mp3"
)

// AudioFormat tags a clip with its container, codec and stream layout.
type AudioFormat struct {
	Container  string `json:"container"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// LinearPCM is the canonical format expected by the speech-to-text adapter.
func LinearPCM(sampleRate, channels int) AudioFormat {
	return AudioFormat{Container: ContainerWAV, Codec: CodecPCMS16LE, SampleRate: sampleRate, Channels: channels}
}

// AudioClip is an immutable audio buffer held in memory or on disk.
// The zero value is the "no audio" clip.
type AudioClip struct {
	data   []byte
	path   string
	format AudioFormat
}

// NoAudio is returned when there is nothing to play.
var NoAudio = AudioClip{}

// NewClip copies data into a new in-memory clip.
func NewClip(data []byte, format AudioFormat) AudioClip {
	return AudioClip{data: append([]byte(nil), data...), format: format}
}

// ClipFromFile references an on-disk clip.
func ClipFromFile(path string, format AudioFormat) AudioClip {
	return AudioClip{path: path, format: format}
}

// Format returns the clip format tag.
func (c AudioClip) Format() AudioFormat { return c.format }

// Path returns the on-disk location, or "" for in-memory clips.
func (c AudioClip) Path() string { return c.path }

// IsEmpty reports whether the clip carries no audio at all.
func (c AudioClip) IsEmpty() bool { return len(c.data) == 0 && c.path == "" }

// Len returns the in-memory size in bytes; on-disk clips report 0.
func (c AudioClip) Len() int { return len(c.data) }

// Bytes returns a copy of the clip contents, reading from disk when needed.
func (c AudioClip) Bytes() ([]byte, error) {
	if c.path != "" {
		return os.ReadFile(c.path)
	}
	return append([]byte(nil), c.data...), nil
}

// Open returns a reader over the clip contents.
func (c AudioClip) Open() (io.ReadCloser, error) {
	if c.path != "" {
		return os.Open(c.path)
	}
	return io.NopCloser(bytes.NewReader(c.data)), nil
}
