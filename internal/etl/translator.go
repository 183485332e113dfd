package etl

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/logger"
	"github.com/visionquest-ai/backend/internal/pipeline"
	"github.com/visionquest-ai/backend/internal/storage"
)

const (
	rawPrefix       = "raw/"
	processedPrefix = "processed/"
)

// Translator produces text in the requested language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Worker mirrors knowledge-base drops under raw/ into a translated
// twin under processed/<lang>/, so retrieval can serve both Arabic and
// English content regardless of the source language.
type Worker struct {
	log        *logger.Logger
	objects    storage.ObjectStore
	translator Translator
	audit      AuditStore
}

// NewWorker builds the ETL worker. audit may be nil; translation then
// runs unrecorded.
func NewWorker(log *logger.Logger, objects storage.ObjectStore, translator Translator, audit AuditStore) *Worker {
	return &Worker{log: log.With("component", "etl"), objects: objects, translator: translator, audit: audit}
}

// Handle processes one object-created event in the knowledge bucket.
// Non-raw keys and non-text payloads are skipped, not failed.
func (w *Worker) Handle(ctx context.Context, ref events.ObjectRef) error {
	if !strings.HasPrefix(ref.Key, rawPrefix) {
		w.log.Debug("ignoring non-raw key", "key", ref.Key)
		return nil
	}
	if !textExt(ref.Key) {
		w.log.Info("skipping non-text knowledge object", "key", ref.Key)
		return nil
	}

	data, err := w.objects.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return &pipeline.TransientError{Err: fmt.Errorf("fetch %s: %w", ref.Key, err)}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		w.log.Info("skipping empty knowledge object", "key", ref.Key)
		return nil
	}

	target := "ar"
	if isArabic(text) {
		target = "en"
	}
	translated, err := w.translator.Translate(ctx, text, target)
	if err != nil {
		return fmt.Errorf("translate %s: %w", ref.Key, err)
	}

	outKey := processedPrefix + target + "/" + strings.TrimPrefix(ref.Key, rawPrefix)
	if err := w.objects.Put(ctx, ref.Bucket, outKey, []byte(translated), "text/plain; charset=utf-8"); err != nil {
		return &pipeline.TransientError{Err: fmt.Errorf("write %s: %w", outKey, err)}
	}

	if w.audit != nil {
		row := &Translation{
			Bucket:     ref.Bucket,
			SourceKey:  ref.Key,
			OutputKey:  outKey,
			TargetLang: target,
			CreatedAt:  time.Now().Unix(),
		}
		if err := w.audit.RecordTranslation(ctx, row); err != nil {
			// translation itself is durable already
			w.log.Warn("audit write failed", "key", ref.Key, "err", err)
		}
	}
	w.log.Info("translated knowledge object", "key", ref.Key, "out", outKey, "lang", target)
	return nil
}

func textExt(key string) bool {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".txt", ".md", ".json", ".csv":
		return true
	}
	return false
}

// isArabic samples the first few hundred runes and reports whether
// Arabic script dominates the letters seen.
func isArabic(text string) bool {
	const sample = 400
	var letters, arabic int
	for i, r := range text {
		if i >= sample {
			break
		}
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r >= 0x0600 && r <= 0x06FF {
			arabic++
		}
	}
	return letters > 0 && arabic*2 > letters
}
