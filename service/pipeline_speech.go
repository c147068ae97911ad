package service

import (
	"context"
	"fmt"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/pkg/logger"
)

// Speech pipeline: noise reduction must finish before transcription because
// the transcript is produced from the cleaned signal. Enhancement works on a
// copy of the original, so it overlaps with transcription. Weights follow
// estimated relative cost: denoise 40, transcribe 50, enhance 10.

const (
	denoiseWeight    = 40
	transcribeWeight = 50
	enhanceWeight    = 10
)

func (m *Manager) runSpeech(ctx context.Context, jobID string, audio []byte) error {
	clean, err := m.stageDenoise(ctx, jobID, audio)
	if err != nil {
		return &StageError{Stage: "denoising", Err: err}
	}
	m.registry.SetProgress(jobID, denoiseWeight)
	logger.Info(ctx, "speech stage done", "stage", "denoising")

	results := make(chan stageResult, 2)
	go func() {
		results <- stageResult{"transcription", m.stageTranscribe(ctx, jobID, clean)}
	}()
	go func() {
		results <- stageResult{"enhancement", m.stageEnhance(ctx, jobID, audio)}
	}()

	var firstErr *StageError
	progress := denoiseWeight
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			logger.Warn(ctx, "speech stage failed", "stage", res.stage, "error", res.err)
			if firstErr == nil {
				firstErr = &StageError{Stage: res.stage, Err: res.err}
			}
			continue
		}
		switch res.stage {
		case "transcription":
			progress += transcribeWeight
		case "enhancement":
			progress += enhanceWeight
		}
		m.registry.SetProgress(jobID, progress)
		logger.Info(ctx, "speech stage done", "stage", res.stage)
	}

	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (m *Manager) stageDenoise(ctx context.Context, jobID string, audio []byte) ([]byte, error) {
	clean, err := m.adapters.NoiseReducer.Denoise(ctx, audio)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/clean_audio.wav", AreaProcessed, jobID)
	if err := SaveBytes(ctx, m.backend, key, clean, "audio/wav"); err != nil {
		return nil, err
	}
	m.registry.AddArtifact(jobID, "clean_audio", key)
	return clean, nil
}

func (m *Manager) stageTranscribe(ctx context.Context, jobID string, clean []byte) error {
	transcript, err := m.adapters.Transcriber.Transcribe(ctx, clean)
	if err != nil {
		return err
	}

	data, err := transcript.ToJSON()
	if err != nil {
		return fmt.Errorf("%w: encode transcript: %v", ErrAdapterFailure, err)
	}
	key := fmt.Sprintf("%s/%s/transcript.json", AreaProcessed, jobID)
	if err := SaveBytes(ctx, m.backend, key, data, "application/json"); err != nil {
		return err
	}

	if err := m.registry.UpdateJob(jobID, func(j *model.Job) {
		j.Metadata.Transcript = transcript.Clone()
		if n := len(transcript.Segments); n > 0 {
			j.Metadata.Duration = formatDuration(transcript.Segments[n-1].End)
		}
	}); err != nil {
		return err
	}
	m.registry.AddArtifact(jobID, "transcript", key)
	return nil
}

// formatDuration renders seconds as m:ss for the metadata view.
func formatDuration(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func (m *Manager) stageEnhance(ctx context.Context, jobID string, audio []byte) error {
	enhanced, err := m.adapters.Enhancer.Enhance(ctx, audio)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%s/enhanced_audio.wav", AreaProcessed, jobID)
	if err := SaveBytes(ctx, m.backend, key, enhanced, "audio/wav"); err != nil {
		return err
	}
	m.registry.AddArtifact(jobID, "enhanced_audio", key)
	return nil
}
