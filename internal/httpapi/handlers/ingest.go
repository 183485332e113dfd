package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visionquest-ai/backend/internal/common"
	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/jobs"
	"github.com/visionquest-ai/backend/internal/storage"
)

type ingestReq struct {
	Question string `json:"question"`
	// base64 payloads; at most one of these is expected
	Audio    string `json:"audio"`
	FileData string `json:"file_data"`
	// older clients send file_content instead of file_data
	FileContent string `json:"file_content"`
	FileName    string `json:"file_name"`

	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// Ingest accepts one submission, writes the payload to the upload
// bucket, creates the PENDING ticket, and publishes the storage event.
// The ticket is readable by the time the job id is returned.
func (h *Handler) Ingest(c *gin.Context) {
	var req ingestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.FileData == "" {
		req.FileData = req.FileContent
	}
	if req.Question == "" && req.Audio == "" && req.FileData == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "nothing to process: provide question, audio_data or file_data")
		return
	}

	kind, payload, fileName, contentType, errCode, errMsg := classify(req)
	if errCode != 0 {
		common.Fail(c, http.StatusBadRequest, errCode, errMsg)
		return
	}

	userID := callerID(c, req.UserID)
	chatID := req.ChatID
	if chatID == "" {
		id, err := common.NewULID()
		if err != nil {
			failInternal(c, 50001, "could not allocate chat id")
			return
		}
		chatID = id
	}

	jobID := common.NewJobID()
	key := storage.ObjectKey(userID, chatID, jobID, fileName)
	ctx := c.Request.Context()

	if err := h.Objects.Put(ctx, h.Cfg.UploadBucket, key, payload, contentType); err != nil {
		h.Log.Error("payload upload failed", "job_id", jobID, "err", err)
		failInternal(c, 50002, "could not store payload")
		return
	}

	now := time.Now().Unix()
	job := &jobs.Job{
		ID:             jobID,
		UserID:         userID,
		ChatID:         chatID,
		Status:         jobs.StatusPending,
		Type:           kind,
		Question:       req.Question,
		FileName:       fileName,
		CreatedAt:      now,
		ExpirationTime: now + jobs.TTL,
	}
	if err := h.Repo.CreateJob(ctx, job); err != nil {
		h.Log.Error("ticket create failed", "job_id", jobID, "err", err)
		failInternal(c, 50003, "could not create job")
		return
	}

	if err := h.Repo.TouchChat(ctx, userID, chatID, chatTitle(req, fileName), now); err != nil {
		// listing metadata only, the ticket is already durable
		h.Log.Warn("chat touch failed", "chat_id", chatID, "err", err)
	}

	if err := h.Events.Publish(ctx, events.NewStorageEvent(h.Cfg.UploadBucket, key)); err != nil {
		h.Log.Error("event publish failed", "job_id", jobID, "err", err)
		// nothing will ever pick the ticket up, so close it out now
		if ferr := h.Repo.MarkFailed(ctx, jobID, "could not queue job for processing"); ferr != nil {
			h.Log.Error("mark failed after publish error", "job_id", jobID, "err", ferr)
		}
		failInternal(c, 50004, "could not queue job")
		return
	}

	h.Log.Info("job accepted", "job_id", jobID, "chat_id", chatID, "type", kind)
	common.Ok(c, gin.H{"job_id": jobID, "chat_id": chatID})
}

// classify picks the processing kind and materializes the payload
// bytes. Text-only submissions become a question.json wrapper so every
// ticket has exactly one object behind it.
func classify(req ingestReq) (kind jobs.Kind, payload []byte, fileName, contentType string, errCode int, errMsg string) {
	switch {
	case req.Audio != "":
		data, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			return "", nil, "", "", 10003, "audio is not valid base64"
		}
		name := req.FileName
		if name == "" {
			name = "voice.wav"
		}
		return jobs.KindAudio, data, name, "application/octet-stream", 0, ""

	case req.FileData != "":
		if req.FileName == "" {
			return "", nil, "", "", 10004, "file_name is required with file_data"
		}
		data, err := base64.StdEncoding.DecodeString(req.FileData)
		if err != nil {
			return "", nil, "", "", 10005, "file_data is not valid base64"
		}
		kind := jobs.KindDocument
		switch strings.ToLower(filepath.Ext(req.FileName)) {
		case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp":
			kind = jobs.KindImage
		}
		return kind, data, req.FileName, "application/octet-stream", 0, ""

	default:
		wrapped, err := json.Marshal(map[string]string{"question": req.Question})
		if err != nil {
			return "", nil, "", "", 10006, "could not encode question"
		}
		return jobs.KindText, wrapped, "question.json", "application/json", 0, ""
	}
}

func chatTitle(req ingestReq, fileName string) string {
	t := req.Question
	if t == "" {
		t = fileName
	}
	// cut on a rune boundary; a byte slice can split a multi-byte
	// character and the chats table rejects invalid UTF-8
	if r := []rune(t); len(r) > 50 {
		t = string(r[:50])
	}
	return t
}
