package jobs

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no ticket exists for a job ID. Callers must
// be able to tell "no such job" apart from a store failure.
var ErrNotFound = errors.New("job not found")

var terminalStates = []Status{StatusSuccess, StatusFailed}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateJob(ctx context.Context, j *Job) error {
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *Repo) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// MarkProcessing moves a ticket out of PENDING. It is a no-op for tickets
// already PROCESSING or terminal, so a duplicate delivery never winds a
// ticket backwards.
func (r *Repo) MarkProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusProcessing).Error
}

// MarkSucceeded writes the terminal SUCCESS state together with the answer
// and citations in a single update. Terminal tickets are never rewritten;
// replaying the same result is observably a no-op. The update goes through
// a struct so the citations serializer runs; a map update would hand the
// raw slice to the SQL driver.
func (r *Repo) MarkSucceeded(ctx context.Context, id string, answer string, citations []Citation) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStates).
		Select("status", "answer", "citations", "error_msg").
		Updates(&Job{
			Status:    StatusSuccess,
			Answer:    answer,
			Citations: citations,
		}).Error
}

// MarkFailed writes the terminal FAILED state with a human-readable message.
func (r *Repo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if errMsg == "" {
		errMsg = "processing failed"
	}
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStates).
		Select("status", "answer", "citations", "error_msg").
		Updates(&Job{
			Status:   StatusFailed,
			ErrorMsg: errMsg,
		}).Error
}

// ListChatJobs returns every ticket in one chat, oldest first.
func (r *Repo) ListChatJobs(ctx context.Context, userID, chatID string) ([]Job, error) {
	var out []Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list chat jobs: %w", err)
	}
	return out, nil
}

// TouchChat records activity on a (user, chat) pair. The title sticks from
// the first write; later submissions only bump last_active.
func (r *Repo) TouchChat(ctx context.Context, userID, chatID, title string, now int64) error {
	c := &Chat{UserID: userID, ChatID: chatID, Title: title, LastActive: now}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "chat_id"}},
			DoUpdates: clause.Assignments(map[string]any{"last_active": now}),
		}).
		Create(c).Error
}

// ListChats returns a user's chats, most recently active first.
func (r *Repo) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	var out []Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_active DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return out, nil
}
