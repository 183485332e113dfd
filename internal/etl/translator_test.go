package etl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/logger"
)

type memObjects struct {
	data map[string][]byte
}

func (m *memObjects) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[bucket+"/"+key] = data
	return nil
}

func (m *memObjects) Get(_ context.Context, bucket, key string) ([]byte, error) {
	b, ok := m.data[bucket+"/"+key]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

type memAudit struct {
	rows []Translation
}

func (m *memAudit) RecordTranslation(_ context.Context, t *Translation) error {
	m.rows = append(m.rows, *t)
	return nil
}

type fakeTranslator struct {
	calls    int
	lastLang string
	out      string
	err      error
}

func (f *fakeTranslator) Translate(_ context.Context, text, targetLang string) (string, error) {
	f.calls++
	f.lastLang = targetLang
	if f.err != nil {
		return "", f.err
	}
	if f.out != "" {
		return f.out, nil
	}
	return "[" + targetLang + "] " + text, nil
}

func TestHandleTranslatesEnglishToArabic(t *testing.T) {
	objects := &memObjects{data: map[string][]byte{
		"kb/raw/guides/vat.txt": []byte("VAT registration is mandatory above the threshold."),
	}}
	tr := &fakeTranslator{}
	audit := &memAudit{}
	w := NewWorker(logger.NewNop(), objects, tr, audit)

	err := w.Handle(context.Background(), events.ObjectRef{Bucket: "kb", Key: "raw/guides/vat.txt"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if tr.lastLang != "ar" {
		t.Fatalf("target lang = %q, want ar", tr.lastLang)
	}
	out, ok := objects.data["kb/processed/ar/guides/vat.txt"]
	if !ok {
		t.Fatalf("translated twin missing, have %v", keys(objects))
	}
	if !strings.HasPrefix(string(out), "[ar] ") {
		t.Fatalf("unexpected twin content %q", out)
	}
	if len(audit.rows) != 1 {
		t.Fatalf("audit rows = %d", len(audit.rows))
	}
	row := audit.rows[0]
	if row.SourceKey != "raw/guides/vat.txt" || row.OutputKey != "processed/ar/guides/vat.txt" || row.TargetLang != "ar" {
		t.Fatalf("audit row = %+v", row)
	}
}

func TestHandleTranslatesArabicToEnglish(t *testing.T) {
	objects := &memObjects{data: map[string][]byte{
		"kb/raw/faq.md": []byte("تسجيل ضريبة القيمة المضافة إلزامي فوق الحد الأدنى للإيرادات"),
	}}
	tr := &fakeTranslator{}
	w := NewWorker(logger.NewNop(), objects, tr, nil)

	if err := w.Handle(context.Background(), events.ObjectRef{Bucket: "kb", Key: "raw/faq.md"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if tr.lastLang != "en" {
		t.Fatalf("target lang = %q, want en", tr.lastLang)
	}
	if _, ok := objects.data["kb/processed/en/faq.md"]; !ok {
		t.Fatalf("translated twin missing, have %v", keys(objects))
	}
}

func TestHandleSkipsProcessedAndBinaryKeys(t *testing.T) {
	objects := &memObjects{data: map[string][]byte{
		"kb/processed/ar/faq.txt": []byte("done"),
		"kb/raw/scan.pdf":         []byte("%PDF"),
	}}
	tr := &fakeTranslator{}
	w := NewWorker(logger.NewNop(), objects, tr, nil)

	for _, key := range []string{"processed/ar/faq.txt", "raw/scan.pdf"} {
		if err := w.Handle(context.Background(), events.ObjectRef{Bucket: "kb", Key: key}); err != nil {
			t.Fatalf("Handle(%s): %v", key, err)
		}
	}
	if tr.calls != 0 {
		t.Fatalf("translator called %d times for skippable keys", tr.calls)
	}
	if len(objects.data) != 2 {
		t.Fatalf("no new objects expected, have %v", keys(objects))
	}
}

func keys(m *memObjects) []string {
	var ks []string
	for k := range m.data {
		ks = append(ks, k)
	}
	return ks
}
