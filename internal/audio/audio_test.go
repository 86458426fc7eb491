package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/domain"
	"parley/internal/ports"
)

func TestMicrophoneStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	mic := NewMicrophone(script)
	mic.probeDelay = 50 * time.Millisecond
	mic.stopTimeout = 100 * time.Millisecond

	session, err := mic.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
}

func TestMicrophoneStartEarlyExitReportsStderr(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'permission denied' 1>&2\nexit 1\n")
	mic := NewMicrophone(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := mic.Start(ctx, ports.AudioConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMicrophoneDefaults(t *testing.T) {
	t.Parallel()

	cfg := withAudioDefaults(ports.AudioConfig{})
	if cfg.SampleRate != 16000 || cfg.Channels != 1 || cfg.InputFormat != "pulse" || cfg.InputDevice != "default" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestNormalizeExitErrIgnoresExitStatus(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeExitErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
	other := errors.New("pipe broke")
	if got := normalizeExitErr(other); got != other {
		t.Fatalf("expected other errors kept, got %v", got)
	}
}

func TestSpeakerStagesPlaysAndReleases(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "played")
	script := writeScript(t, "play.sh", "#!/usr/bin/env bash\ncat \"${@: -1}\" > '"+out+"'\n")
	speaker := NewSpeaker(script)
	speaker.tempDir = t.TempDir()

	clip := domain.NewClip([]byte("mp3-bytes"), domain.AudioFormat{Container: domain.ContainerMP3, Codec: domain.CodecMP3})
	playable, err := speaker.Prepare(clip)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	staged := playable.(*filePlayable).path
	if filepath.Ext(staged) != ".mp3" {
		t.Fatalf("expected mp3 staging file, got %s", staged)
	}

	if err := playable.Play(context.Background()); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	played, err := os.ReadFile(out)
	if err != nil || string(played) != "mp3-bytes" {
		t.Fatalf("unexpected played bytes: %q, %v", played, err)
	}

	if err := playable.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := os.Stat(staged); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected staged file removed, got %v", err)
	}
	if err := playable.Release(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
}

func TestSpeakerKeepsCallerOwnedFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reply.wav")
	if err := os.WriteFile(path, []byte("wav"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	speaker := NewSpeaker(writeScript(t, "play.sh", "#!/usr/bin/env bash\nexit 0\n"))

	playable, err := speaker.Prepare(domain.ClipFromFile(path, domain.AudioFormat{Container: domain.ContainerWAV}))
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if err := playable.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("caller file must survive release: %v", err)
	}
}

func TestSpeakerPlayCancellation(t *testing.T) {
	t.Parallel()

	speaker := NewSpeaker(writeScript(t, "slow.sh", "#!/usr/bin/env bash\nexec sleep 30\n"))
	speaker.tempDir = t.TempDir()
	playable, err := speaker.Prepare(domain.NewClip([]byte("x"), domain.AudioFormat{Container: domain.ContainerMP3}))
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer playable.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := playable.Play(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSpeakerPlayFailureIncludesStderr(t *testing.T) {
	t.Parallel()

	speaker := NewSpeaker(writeScript(t, "bad.sh", "#!/usr/bin/env bash\necho 'invalid data' 1>&2\nexit 1\n"))
	speaker.tempDir = t.TempDir()
	playable, err := speaker.Prepare(domain.NewClip([]byte("x"), domain.AudioFormat{Container: domain.ContainerMP3}))
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer playable.Release()

	err = playable.Play(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid data") {
		t.Fatalf("expected ffplay stderr in error, got %v", err)
	}
}

func TestSpeakerRejectsEmptyClip(t *testing.T) {
	t.Parallel()

	if _, err := NewSpeaker("").Prepare(domain.NoAudio); err == nil {
		t.Fatalf("expected empty clip to be rejected")
	}
}

func TestSpeakerRawPCMArgs(t *testing.T) {
	t.Parallel()

	args := NewSpeaker("").args("/tmp/x.pcm", domain.AudioFormat{Container: domain.ContainerRaw, SampleRate: 24000, Channels: 1})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f s16le -ar 24000 -ac 1") || args[len(args)-1] != "/tmp/x.pcm" {
		t.Fatalf("unexpected raw args: %v", args)
	}
}

func TestSilentClipIsHeaderOnlyWAV(t *testing.T) {
	t.Parallel()

	clip := SilentClip()
	data, err := clip.Bytes()
	if err != nil {
		t.Fatalf("bytes failed: %v", err)
	}
	if len(data) != 44 || !bytes.HasPrefix(data, []byte("RIFF")) || string(data[8:12]) != "WAVE" {
		t.Fatalf("unexpected header: %q", data)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != 0 {
		t.Fatalf("expected empty data chunk, got %d", size)
	}
	if clip.Format().Container != domain.ContainerWAV {
		t.Fatalf("expected wav container")
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
