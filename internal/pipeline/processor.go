package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/visionquest-ai/backend/internal/answer"
	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/extract"
	"github.com/visionquest-ai/backend/internal/jobs"
	"github.com/visionquest-ai/backend/internal/logger"
	"github.com/visionquest-ai/backend/internal/speech"
	"github.com/visionquest-ai/backend/internal/storage"
	"github.com/visionquest-ai/backend/internal/vision"
)

// Store is the slice of the ticket repository the processor needs.
type Store interface {
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id, answerText string, citations []jobs.Citation) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// Answerer is the slice of the answer engine the processor needs.
type Answerer interface {
	Answer(ctx context.Context, query string) (*answer.Result, error)
	AnswerAbout(ctx context.Context, query, contextText, sourceURI string) (*answer.Result, error)
}

// Processor drives one object-created event through to a terminal
// ticket status.
type Processor struct {
	log     *logger.Logger
	store   Store
	objects storage.ObjectStore
	docs    extract.DocumentReader
	audio   speech.Transcriber
	images  vision.Analyzer
	engine  Answerer
}

func NewProcessor(log *logger.Logger, store Store, objects storage.ObjectStore,
	docs extract.DocumentReader, audio speech.Transcriber, images vision.Analyzer,
	engine Answerer) *Processor {
	return &Processor{
		log:     log.With("component", "processor"),
		store:   store,
		objects: objects,
		docs:    docs,
		audio:   audio,
		images:  images,
		engine:  engine,
	}
}

// Process resolves the ticket behind ref, runs the stage that matches
// the payload type, and writes SUCCESS. Errors come back tagged; the
// caller decides between redelivery and Abandon. A ticket already in a
// terminal state is a redelivered event and a no-op.
func (p *Processor) Process(ctx context.Context, ref events.ObjectRef) error {
	jobID := storage.JobIDFromKey(ref.Key)
	if jobID == "" {
		return &ClientError{Err: fmt.Errorf("no job id in object key %q", ref.Key)}
	}
	log := p.log.With("job_id", jobID, "key", ref.Key)

	job, err := p.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return &ClientError{Err: fmt.Errorf("job %s: %w", jobID, err)}
	}
	if err != nil {
		return &TransientError{Err: fmt.Errorf("load job %s: %w", jobID, err)}
	}
	if job.Status.Terminal() {
		log.Info("job already terminal, skipping", "status", job.Status)
		return nil
	}

	if err := p.store.MarkProcessing(ctx, jobID); err != nil {
		return &TransientError{Err: fmt.Errorf("mark processing %s: %w", jobID, err)}
	}

	res, err := p.run(ctx, job, ref)
	if err != nil {
		log.Error("processing failed", "err", err)
		return err
	}

	if err := p.store.MarkSucceeded(ctx, jobID, res.Text, toCitations(res.Citations)); err != nil {
		return &TransientError{Err: fmt.Errorf("mark succeeded %s: %w", jobID, err)}
	}
	log.Info("job succeeded", "type", job.Type)
	return nil
}

// Abandon writes the terminal FAILED status for a job the caller has
// given up on. It never returns the original cause; the write itself
// is best effort against a store that may also be down.
func (p *Processor) Abandon(ctx context.Context, ref events.ObjectRef, cause error) {
	jobID := storage.JobIDFromKey(ref.Key)
	if jobID == "" {
		return
	}
	msg := "processing failed"
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.store.MarkFailed(ctx, jobID, msg); err != nil {
		p.log.Error("could not mark job failed", "job_id", jobID, "err", err)
		return
	}
	p.log.Warn("job abandoned", "job_id", jobID, "cause", msg)
}

func (p *Processor) run(ctx context.Context, job *jobs.Job, ref events.ObjectRef) (*answer.Result, error) {
	fileName := job.FileName
	if fileName == "" {
		fileName = filepath.Base(ref.Key)
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	uri := storage.URI(ref.Bucket, ref.Key)

	data, err := p.objects.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("fetch payload %s: %w", ref.Key, err)}
	}

	switch {
	case ext == ".json" || ext == ".txt":
		question, err := readQuestion(data)
		if err != nil {
			return nil, &ClientError{Err: fmt.Errorf("payload %s: %w", ref.Key, err)}
		}
		res, err := p.engine.Answer(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("answer: %w", err)
		}
		return res, nil

	case isAudio(ext):
		transcript, err := p.audio.Transcribe(ctx, data, fileName)
		if err != nil {
			return nil, fmt.Errorf("transcribe %s: %w", fileName, err)
		}
		// A bare voice note is the question itself; a voice note
		// attached to a typed question becomes its context.
		if strings.TrimSpace(job.Question) == "" {
			res, err := p.engine.Answer(ctx, transcript)
			if err != nil {
				return nil, fmt.Errorf("answer: %w", err)
			}
			return res, nil
		}
		res, err := p.engine.AnswerAbout(ctx, job.Question, transcript, uri)
		if err != nil {
			return nil, fmt.Errorf("answer: %w", err)
		}
		return res, nil

	case isImage(ext):
		analysis, err := p.images.Analyze(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", fileName, err)
		}
		res, err := p.engine.AnswerAbout(ctx, job.Question, imageContext(analysis), uri)
		if err != nil {
			return nil, fmt.Errorf("answer: %w", err)
		}
		return res, nil

	case isDocument(ext):
		text, err := p.docs.ReadDocument(ctx, ref.Bucket, ref.Key, data, mimeFor(ext))
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", fileName, err)
		}
		res, err := p.engine.AnswerAbout(ctx, job.Question, text, uri)
		if err != nil {
			return nil, fmt.Errorf("answer: %w", err)
		}
		return res, nil

	default:
		return nil, &ClientError{Err: fmt.Errorf("unsupported file type %q", fileName)}
	}
}

// readQuestion accepts either the {"question": ...} wrapper written by
// the ingestion endpoint or a bare text payload.
func readQuestion(data []byte) (string, error) {
	var wrapped struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Question != "" {
		return wrapped.Question, nil
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "", errors.New("empty question payload")
	}
	return s, nil
}

func imageContext(a *vision.Analysis) string {
	var parts []string
	if a.Text != "" {
		parts = append(parts, a.Text)
	}
	if len(a.Labels) > 0 {
		parts = append(parts, "Image labels: "+strings.Join(a.Labels, ", "))
	}
	return strings.Join(parts, "\n\n")
}

func toCitations(in []answer.Citation) []jobs.Citation {
	if len(in) == 0 {
		return nil
	}
	out := make([]jobs.Citation, len(in))
	for i, c := range in {
		out[i] = jobs.Citation{URI: c.URI, Text: c.Text}
	}
	return out
}

func isAudio(ext string) bool {
	switch ext {
	case ".wav", ".mp3", ".flac", ".ogg", ".opus", ".m4a", ".webm":
		return true
	}
	return false
}

func isImage(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp":
		return true
	}
	return false
}

func isDocument(ext string) bool {
	switch ext {
	case ".pdf", ".tif", ".tiff", ".docx":
		return true
	}
	return false
}

func mimeFor(ext string) string {
	switch ext {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/pdf"
	}
}
