package storage

import (
	"context"
	"fmt"
	"strings"
)

// ObjectStore is the slice of object storage the pipeline needs: write a
// payload at ingestion, read it back in the processing stage.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// ObjectKey builds the payload key for one submission. The key carries the
// full routing context so the processing stage can recover the job ID from
// the storage event alone.
func ObjectKey(userID, chatID, jobID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s/%s", userID, chatID, jobID, fileName)
}

// JobIDFromKey recovers the job ID from a payload key, or "" when the key
// does not follow the <user>/<chat>/<job>/<file> convention.
func JobIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return ""
	}
	return parts[2]
}

// URI renders a gs:// location for services that read straight from the
// bucket (batch OCR, long audio).
func URI(bucket, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, key)
}
