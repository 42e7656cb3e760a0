package transcribe

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/mgpai22/captioner/internal/audio"
	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/subtitle"
)

// chunkRecognizer transcribes one audio piece. Timestamps in the returned
// segments are relative to the start of the piece.
type chunkRecognizer func(ctx context.Context, path string) ([]subtitle.Segment, error)

// chunkOutcome holds the result of transcribing a chunk
type chunkOutcome struct {
	segments []subtitle.Segment
	err      error
}

// chunkedTranscribe compresses the media, splits it into pieces and
// recognizes up to concurrency pieces ahead of the consumer. Segments are
// yielded in media order, one piece at a time, so a stopped consumer stops
// further uploads.
func chunkedTranscribe(
	ctx context.Context,
	log *logging.Logger,
	mediaPath string,
	cfg Config,
	recognize chunkRecognizer,
) iter.Seq2[subtitle.Segment, error] {
	return func(yield func(subtitle.Segment, error) bool) {
		workDir, err := os.MkdirTemp(cfg.TempDir, "captioner-chunks-*")
		if err != nil {
			yield(subtitle.Segment{}, failure.Wrap(failure.KindIOFailure, "create work directory", err))
			return
		}
		defer func() { _ = os.RemoveAll(workDir) }()

		compressed := filepath.Join(workDir, "audio.mp3")
		if err := audio.CompressAudio(ctx, mediaPath, compressed, audio.DefaultCompressionOptions()); err != nil {
			yield(subtitle.Segment{}, err)
			return
		}

		chunks, err := audio.ChunkAudio(ctx, compressed, cfg.ChunkDuration, filepath.Join(workDir, "chunks"))
		if err != nil {
			yield(subtitle.Segment{}, err)
			return
		}
		log.Debugw("audio split", "chunks", len(chunks), "chunk_duration", cfg.ChunkDuration)

		for seg, err := range recognizeInOrder(ctx, chunks, cfg.Concurrency, recognize) {
			if !yield(seg, err) || err != nil {
				return
			}
		}
	}
}

// recognizeInOrder runs recognize over chunks with at most concurrency
// results outstanding and yields segments offset onto the media timeline.
func recognizeInOrder(
	ctx context.Context,
	chunks []audio.ChunkInfo,
	concurrency int,
	recognize chunkRecognizer,
) iter.Seq2[subtitle.Segment, error] {
	return func(yield func(subtitle.Segment, error) bool) {
		if len(chunks) == 0 {
			return
		}
		if concurrency <= 0 {
			concurrency = 1
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		results := make([]chan chunkOutcome, len(chunks))
		for i := range results {
			results[i] = make(chan chunkOutcome, 1)
		}

		// a slot is held from dispatch until the consumer takes the result
		slots := make(chan struct{}, concurrency)
		dispatchDone := make(chan struct{})
		go func() {
			defer close(dispatchDone)
			for i, chunk := range chunks {
				select {
				case slots <- struct{}{}:
				case <-ctx.Done():
					return
				}
				go func() {
					segments, err := recognize(ctx, chunk.Path)
					if err != nil {
						err = fmt.Errorf("chunk %d: %w", chunk.Index, err)
					}
					results[i] <- chunkOutcome{segments: segments, err: err}
				}()
			}
		}()
		defer func() {
			cancel()
			<-dispatchDone
		}()

		for i, chunk := range chunks {
			var outcome chunkOutcome
			select {
			case outcome = <-results[i]:
			case <-ctx.Done():
				yield(subtitle.Segment{}, failure.Wrap(failure.KindCancelled, "transcription", ctx.Err()))
				return
			}
			<-slots

			if outcome.err != nil {
				yield(subtitle.Segment{}, outcome.err)
				return
			}

			offset := chunk.StartTime.Seconds()
			for _, seg := range outcome.segments {
				if !yield(offsetSegment(seg, offset), nil) {
					return
				}
			}
		}
	}
}
