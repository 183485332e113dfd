package events

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// StorageEvent is the storage-write notification envelope: one record per
// written object, with the object key URL-encoded by the emitter.
type StorageEvent struct {
	Records []Record `json:"Records"`
}

type Record struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// ObjectRef is one decoded (bucket, key) pair ready for the processing
// stage.
type ObjectRef struct {
	Bucket string
	Key    string
}

// queueEnvelope is the optional outer wrapper some delivery paths add
// around the storage event.
type queueEnvelope struct {
	Message string `json:"Message"`
}

// Decode unwraps an event body into object references. An outer queue
// envelope is stripped first; object keys are URL-decoded. Records that
// are malformed or incomplete are skipped and counted rather than failing
// the whole batch. An error is returned only when the body as a whole is
// not a storage event.
func Decode(body []byte) (refs []ObjectRef, skipped int, err error) {
	var outer queueEnvelope
	if json.Unmarshal(body, &outer) == nil && strings.TrimSpace(outer.Message) != "" {
		body = []byte(outer.Message)
	}

	var ev StorageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, 0, fmt.Errorf("decode storage event: %w", err)
	}
	if len(ev.Records) == 0 {
		return nil, 0, fmt.Errorf("storage event has no records")
	}

	for _, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name
		rawKey := rec.S3.Object.Key
		if bucket == "" || rawKey == "" {
			skipped++
			continue
		}
		key, uerr := url.QueryUnescape(rawKey)
		if uerr != nil {
			skipped++
			continue
		}
		refs = append(refs, ObjectRef{Bucket: bucket, Key: key})
	}
	return refs, skipped, nil
}

// NewStorageEvent builds the envelope the ingestion side publishes after a
// payload write, mirroring what a bucket-notification hook would emit.
func NewStorageEvent(bucket, key string) StorageEvent {
	var ev StorageEvent
	var rec Record
	rec.S3.Bucket.Name = bucket
	rec.S3.Object.Key = url.QueryEscape(key)
	ev.Records = []Record{rec}
	return ev
}
