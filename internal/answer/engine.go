package answer

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Citation is a source reference attached to an answer.
type Citation struct {
	URI  string `json:"uri"`
	Text string `json:"text,omitempty"`
}

// Result is the final output of one answer chain.
type Result struct {
	Text      string
	Citations []Citation
}

// NoInputAnswer is returned without touching the generation service when
// the effective query is degenerate.
const NoInputAnswer = "I could not find a clear question in your input. Please rephrase it or add more detail."

const minQueryRunes = 3

const systemPrompt = "You are an expert AI data analyst for Saudi SMEs. " +
	"Answer the user's question strictly based on the context provided. " +
	"Be professional and concise. Answer in the user's language."

// Engine composes retrieval and generation into one answer step.
type Engine struct {
	retriever Retriever
	registry  *Registry
	provider  string
	model     string
	topK      int
}

func NewEngine(retriever Retriever, registry *Registry, provider, model string, topK int) *Engine {
	if topK <= 0 {
		topK = 3
	}
	return &Engine{
		retriever: retriever,
		registry:  registry,
		provider:  provider,
		model:     model,
		topK:      topK,
	}
}

// Answer runs the retrieval-augmented path: look up passages for the
// query, generate against them, and cite the passages' sources.
func (e *Engine) Answer(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if degenerate(query) {
		return &Result{Text: NoInputAnswer}, nil
	}

	passages, err := e.retriever.Retrieve(ctx, query, e.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	var b strings.Builder
	for _, p := range passages {
		b.WriteString(p.Text)
		b.WriteString("\n")
	}

	text, err := e.generate(ctx, query, b.String())
	if err != nil {
		return nil, err
	}

	cits := make([]Citation, 0, len(passages))
	for _, p := range passages {
		cits = append(cits, Citation{URI: p.SourceURI, Text: snippet(p.Text)})
	}
	return &Result{Text: text, Citations: cits}, nil
}

// AnswerAbout generates against caller-supplied context (OCR text, a
// transcript, image annotations) instead of retrieved passages. The
// payload's own location is the only citation.
func (e *Engine) AnswerAbout(ctx context.Context, query, contextText, sourceURI string) (*Result, error) {
	query = strings.TrimSpace(query)
	if degenerate(query) && degenerate(strings.TrimSpace(contextText)) {
		return &Result{Text: NoInputAnswer}, nil
	}
	if query == "" {
		query = "Summarize this content."
	}

	text, err := e.generate(ctx, query, contextText)
	if err != nil {
		return nil, err
	}

	var cits []Citation
	if sourceURI != "" {
		cits = []Citation{{URI: sourceURI}}
	}
	return &Result{Text: text, Citations: cits}, nil
}

// Translate renders text into the target language through the same
// provider used for generation.
func (e *Engine) Translate(ctx context.Context, text, targetLang string) (string, error) {
	p, err := e.registry.Get(ctx, e.provider, e.model)
	if err != nil {
		return "", err
	}
	return p.Chat(ctx, []Message{
		{Role: "system", Content: "You are a professional translator. Output only the translation, nothing else."},
		{Role: "user", Content: fmt.Sprintf("Translate the following text to %s:\n\n%s", targetLang, text)},
	})
}

func (e *Engine) generate(ctx context.Context, query, contextText string) (string, error) {
	p, err := e.registry.Get(ctx, e.provider, e.model)
	if err != nil {
		return "", err
	}

	user := query
	if strings.TrimSpace(contextText) != "" {
		user = fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", contextText, query)
	}

	text, err := p.Chat(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// degenerate reports whether a query is too thin to send to the
// generation service.
func degenerate(q string) bool {
	n := 0
	for _, r := range q {
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			n++
		}
	}
	return n < minQueryRunes
}

// snippet cuts on a rune boundary so non-ASCII passages stay valid
// UTF-8 in the stored citation.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= 200 {
		return s
	}
	return string(r[:200])
}
