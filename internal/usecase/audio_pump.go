package usecase

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"parley/internal/domain"
	"parley/internal/ports"
)

type chunkSink interface {
	send(chunk []byte) error
}

func pumpAudioChunks(
	audio io.Reader,
	sink chunkSink,
	chunkSize int,
	events ports.EventSink,
	log *slog.Logger,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	dropped := 0
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := sink.send(buf[:n]); sendErr != nil {
				// the supervisor restarts or fails the stream; keep draining the mic
				dropped++
				if dropped == 1 {
					log.Debug("dropping audio during stream gap", "err", sendErr)
				}
			} else {
				dropped = 0
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
