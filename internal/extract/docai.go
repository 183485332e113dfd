package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/visionquest-ai/backend/internal/gcp"
	"github.com/visionquest-ai/backend/internal/logger"
)

// DocumentReader turns an uploaded document into plain text.
type DocumentReader interface {
	ReadDocument(ctx context.Context, bucket, key string, data []byte, mimeType string) (string, error)
}

type Config struct {
	ProjectID   string
	Location    string
	ProcessorID string

	// documents larger than this go through the async batch path
	SyncMaxBytes int64
	MaxPages     int
	Timeout      time.Duration
}

type Service struct {
	log     *logger.Logger
	client  *documentai.DocumentProcessorClient
	storage *gcs.Client
	cfg     Config
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*Service, error) {
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	if cfg.SyncMaxBytes <= 0 {
		cfg.SyncMaxBytes = 10 << 20
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, gcp.ClientOptionsFromEnv()...)
	client, err := documentai.NewDocumentProcessorClient(ctx, docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	st, err := gcs.NewClient(ctx, gcp.ClientOptionsFromEnv()...)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage client: %w", err)
	}

	return &Service{
		log:     log.With("service", "extract"),
		client:  client,
		storage: st,
		cfg:     cfg,
	}, nil
}

func (s *Service) Close() error {
	_ = s.client.Close()
	return s.storage.Close()
}

func (s *Service) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		s.cfg.ProjectID, s.cfg.Location, s.cfg.ProcessorID)
}

// ReadDocument OCRs one document. Small payloads go through the
// synchronous call; larger ones run as a bounded batch job against the
// copy already sitting in the bucket. Text beyond MaxPages pages is not
// guaranteed complete.
func (s *Service) ReadDocument(ctx context.Context, bucket, key string, data []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if mimeType == "" {
		mimeType = "application/pdf"
	}

	if int64(len(data)) <= s.cfg.SyncMaxBytes {
		return s.processSync(ctx, data, mimeType)
	}
	return s.processBatch(ctx, bucket, key, mimeType)
}

func (s *Service) processSync(ctx context.Context, data []byte, mimeType string) (string, error) {
	resp, err := s.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: s.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Document.Text), nil
}

func (s *Service) processBatch(ctx context.Context, bucket, key, mimeType string) (string, error) {
	outPrefix := fmt.Sprintf("ocr-output/%s/", strings.ReplaceAll(key, "/", "_"))

	op, err := s.client.BatchProcessDocuments(ctx, &documentaipb.BatchProcessRequest{
		Name: s.processorName(),
		InputDocuments: &documentaipb.BatchDocumentsInputConfig{
			Source: &documentaipb.BatchDocumentsInputConfig_GcsDocuments{
				GcsDocuments: &documentaipb.GcsDocuments{
					Documents: []*documentaipb.GcsDocument{
						{GcsUri: fmt.Sprintf("gs://%s/%s", bucket, key), MimeType: mimeType},
					},
				},
			},
		},
		DocumentOutputConfig: &documentaipb.DocumentOutputConfig{
			Destination: &documentaipb.DocumentOutputConfig_GcsOutputConfig_{
				GcsOutputConfig: &documentaipb.DocumentOutputConfig_GcsOutputConfig{
					GcsUri: fmt.Sprintf("gs://%s/%s", bucket, outPrefix),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("documentai BatchProcessDocuments: %w", err)
	}

	// Wait is bounded by the deadline on ctx, not a retry counter.
	if _, err := op.Wait(ctx); err != nil {
		return "", fmt.Errorf("documentai batch wait: %w", err)
	}

	keys, err := s.listOutputJSON(ctx, bucket, outPrefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("documentai batch produced no output under gs://%s/%s", bucket, outPrefix)
	}

	var b strings.Builder
	pages := 0
	for _, k := range keys {
		if pages >= s.cfg.MaxPages {
			s.log.Warn("document truncated at page cap", "key", key, "max_pages", s.cfg.MaxPages)
			break
		}
		raw, err := s.readObject(ctx, bucket, k)
		if err != nil {
			return "", fmt.Errorf("read ocr output %s: %w", k, err)
		}
		var doc struct {
			Text  string `json:"text"`
			Pages []any  `json:"pages"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			s.log.Warn("unparseable ocr output shard", "key", k, "err", err)
			continue
		}
		if t := strings.TrimSpace(doc.Text); t != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(t)
		}
		if n := len(doc.Pages); n > 0 {
			pages += n
		} else {
			pages++
		}
	}
	return b.String(), nil
}

func (s *Service) listOutputJSON(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.storage.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		if strings.HasSuffix(strings.ToLower(attrs.Name), ".json") {
			keys = append(keys, attrs.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Service) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	rc, err := s.storage.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
