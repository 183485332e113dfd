package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/visionquest-ai/backend/internal/gcp"
	"github.com/visionquest-ai/backend/internal/logger"
)

// Analysis is what we could read off an image: any embedded text plus
// the top label annotations.
type Analysis struct {
	Text   string
	Labels []string
}

// Analyzer inspects an uploaded image.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (*Analysis, error)
}

type Service struct {
	log     *logger.Logger
	client  *vision.ImageAnnotatorClient
	timeout time.Duration
}

func New(ctx context.Context, log *logger.Logger, timeout time.Duration) (*Service, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	client, err := vision.NewImageAnnotatorClient(ctx, gcp.ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &Service{log: log.With("service", "vision"), client: client, timeout: timeout}, nil
}

func (s *Service) Close() error { return s.client.Close() }

func (s *Service) Analyze(ctx context.Context, data []byte) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
					{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: 10},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return &Analysis{}, nil
	}
	r := resp.GetResponses()[0]
	if e := r.GetError(); e != nil {
		return nil, fmt.Errorf("vision annotate: %s", e.GetMessage())
	}

	out := &Analysis{}
	if ft := r.GetFullTextAnnotation(); ft != nil {
		out.Text = strings.TrimSpace(ft.GetText())
	}
	for _, l := range r.GetLabelAnnotations() {
		if d := strings.TrimSpace(l.GetDescription()); d != "" {
			out.Labels = append(out.Labels, d)
		}
	}
	return out, nil
}
