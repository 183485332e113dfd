package answer

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

type fakeRetriever struct {
	passages []Passage
	lastQ    string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	_ = ctx
	_ = topK
	f.lastQ = query
	return f.passages, nil
}

type recordingProvider struct {
	last  []Message
	reply string
	calls int
}

func (p *recordingProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	_ = ctx
	p.calls++
	p.last = append([]Message(nil), messages...)
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

func newTestEngine(ret Retriever, prov Provider) *Engine {
	reg := NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	return NewEngine(ret, reg, "fake", "default", 3)
}

func TestAnswer_CitesRetrievedPassages(t *testing.T) {
	ret := &fakeRetriever{passages: []Passage{
		{Text: "VAT in Saudi Arabia is 15%.", SourceURI: "gs://kb/zatca.pdf", Score: 0.9},
		{Text: "E-invoicing is mandatory.", SourceURI: "gs://kb/fatoora.pdf", Score: 0.7},
	}}
	prov := &recordingProvider{reply: "The VAT rate is 15%."}

	res, err := newTestEngine(ret, prov).Answer(context.Background(), "What is the VAT rate?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Text != "The VAT rate is 15%." {
		t.Fatalf("unexpected answer: %q", res.Text)
	}
	if len(res.Citations) != 2 || res.Citations[0].URI != "gs://kb/zatca.pdf" {
		t.Fatalf("unexpected citations: %+v", res.Citations)
	}
	if ret.lastQ != "What is the VAT rate?" {
		t.Fatalf("retriever got query %q", ret.lastQ)
	}
	// the retrieved context must reach the provider
	if !strings.Contains(prov.last[1].Content, "VAT in Saudi Arabia is 15%.") {
		t.Fatalf("context missing from prompt: %q", prov.last[1].Content)
	}
}

func TestAnswer_DegenerateQuerySkipsProvider(t *testing.T) {
	ret := &fakeRetriever{}
	prov := &recordingProvider{}

	for _, q := range []string{"", "  ", "?", "a?"} {
		res, err := newTestEngine(ret, prov).Answer(context.Background(), q)
		if err != nil {
			t.Fatalf("answer(%q): %v", q, err)
		}
		if res.Text != NoInputAnswer {
			t.Fatalf("expected canned answer for %q, got %q", q, res.Text)
		}
	}
	if prov.calls != 0 {
		t.Fatalf("provider was called %d times for degenerate input", prov.calls)
	}
}

func TestAnswerAbout_UsesSuppliedContext(t *testing.T) {
	prov := &recordingProvider{reply: "It is an invoice."}

	res, err := newTestEngine(&fakeRetriever{}, prov).AnswerAbout(
		context.Background(), "What is this document?", "INVOICE #42 TOTAL 100 SAR", "gs://uploads/u/c/job-1-x/scan.pdf")
	if err != nil {
		t.Fatalf("answer about: %v", err)
	}
	if res.Text != "It is an invoice." {
		t.Fatalf("unexpected answer: %q", res.Text)
	}
	if len(res.Citations) != 1 || res.Citations[0].URI != "gs://uploads/u/c/job-1-x/scan.pdf" {
		t.Fatalf("unexpected citations: %+v", res.Citations)
	}
	if !strings.Contains(prov.last[1].Content, "INVOICE #42") {
		t.Fatalf("context missing from prompt")
	}
}

func TestAnswerAbout_EmptyQuestionDefaultsToSummary(t *testing.T) {
	prov := &recordingProvider{}

	_, err := newTestEngine(&fakeRetriever{}, prov).AnswerAbout(
		context.Background(), "", "a long transcript of a voice note about taxes", "")
	if err != nil {
		t.Fatalf("answer about: %v", err)
	}
	if !strings.Contains(prov.last[1].Content, "Summarize this content.") {
		t.Fatalf("empty question not defaulted: %q", prov.last[1].Content)
	}
}

func TestSnippet_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ض", 300)
	got := snippet(long)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 200 {
		t.Fatalf("snippet kept %d runes, want 200", n)
	}

	short := "  ملخص قصير  "
	if got := snippet(short); got != "ملخص قصير" {
		t.Fatalf("short text mangled: %q", got)
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get(context.Background(), "nope", ""); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
