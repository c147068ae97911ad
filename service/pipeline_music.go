package service

import (
	"context"
	"fmt"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/pkg/logger"
)

// Music pipeline: stem separation, lyric transcription and audio-feature
// analysis are independent stages against the same source, so they run
// concurrently. Progress is split in equal thirds; the job completes only
// when all three succeed. A failed stage fails the job but artifacts from
// the stages that did succeed are kept.

const musicStageWeight = 33

type stageResult struct {
	stage string
	err   error
}

func (m *Manager) runMusic(ctx context.Context, jobID string, audio []byte) error {
	results := make(chan stageResult, 3)

	go func() {
		results <- stageResult{"separation", m.stageSeparate(ctx, jobID, audio)}
	}()
	go func() {
		results <- stageResult{"lyrics_transcription", m.stageLyrics(ctx, jobID, audio)}
	}()
	go func() {
		results <- stageResult{"analysis", m.stageAnalyze(ctx, jobID, audio)}
	}()

	var firstErr *StageError
	progress := 0
	for i := 0; i < 3; i++ {
		res := <-results
		if res.err != nil {
			logger.Warn(ctx, "music stage failed", "stage", res.stage, "error", res.err)
			if firstErr == nil {
				firstErr = &StageError{Stage: res.stage, Err: res.err}
			}
			continue
		}
		progress += musicStageWeight
		m.registry.SetProgress(jobID, progress)
		logger.Info(ctx, "music stage done", "stage", res.stage)
	}

	if firstErr != nil {
		return firstErr
	}
	return nil
}

// stageSeparate splits the source into stems and commits each one as an
// artifact the moment it is stored.
func (m *Manager) stageSeparate(ctx context.Context, jobID string, audio []byte) error {
	stems, err := m.adapters.StemSeparator.Separate(ctx, audio)
	if err != nil {
		return err
	}
	if len(stems) == 0 {
		return fmt.Errorf("%w: separator returned no stems", ErrAdapterFailure)
	}

	for name, data := range stems {
		key := fmt.Sprintf("%s/%s/stems/%s.wav", AreaProcessed, jobID, name)
		if err := SaveBytes(ctx, m.backend, key, data, "audio/wav"); err != nil {
			return err
		}
		m.registry.AddArtifact(jobID, name, key)
	}
	return nil
}

// stageLyrics transcribes the source and stores the lyrics both on the job
// metadata and as a JSON artifact.
func (m *Manager) stageLyrics(ctx context.Context, jobID string, audio []byte) error {
	lyrics, err := m.adapters.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return err
	}

	data, err := lyrics.ToJSON()
	if err != nil {
		return fmt.Errorf("%w: encode lyrics: %v", ErrAdapterFailure, err)
	}
	key := fmt.Sprintf("%s/%s/lyrics.json", AreaProcessed, jobID)
	if err := SaveBytes(ctx, m.backend, key, data, "application/json"); err != nil {
		return err
	}

	if err := m.registry.UpdateJob(jobID, func(j *model.Job) {
		j.Metadata.Lyrics = lyrics.Clone()
	}); err != nil {
		return err
	}
	m.registry.AddArtifact(jobID, "lyrics", key)
	return nil
}

func (m *Manager) stageAnalyze(ctx context.Context, jobID string, audio []byte) error {
	features, err := m.adapters.Analyzer.Analyze(ctx, audio)
	if err != nil {
		return err
	}
	return m.registry.UpdateJob(jobID, func(j *model.Job) {
		j.Metadata.Key = features.Key
		j.Metadata.BPM = features.BPM
		j.Metadata.Duration = features.Duration
		j.Metadata.SampleRate = features.SampleRate
	})
}
