package jobs

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Kind string

const (
	KindText     Kind = "text"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindImage    Kind = "image"
)

// Citation points at a source passage that backed an answer.
type Citation struct {
	URI  string `json:"uri"`
	Text string `json:"text,omitempty"`
}

// Job is the durable ticket tracking one submission's lifecycle.
// Timestamps are plain epoch seconds so they serialize as ordinary
// integers in API responses.
type Job struct {
	ID     string `gorm:"primaryKey;size:64" json:"job_id"`
	UserID string `gorm:"type:varchar(128);not null;index:idx_jobs_user_chat,priority:1" json:"user_id"`
	ChatID string `gorm:"type:varchar(64);not null;index;index:idx_jobs_user_chat,priority:2" json:"chat_id"`

	Status Status `gorm:"type:varchar(16);index;not null" json:"status"`
	Type   Kind   `gorm:"type:varchar(16);not null" json:"type"`

	Question string `gorm:"type:text" json:"question,omitempty"`
	FileName string `gorm:"type:varchar(255)" json:"file_name,omitempty"`

	CreatedAt      int64 `gorm:"not null" json:"created_at"`
	ExpirationTime int64 `gorm:"index" json:"expiration_time"`

	// Filled on SUCCESS
	Answer    string     `gorm:"type:text" json:"answer,omitempty"`
	Citations []Citation `gorm:"serializer:json" json:"citations,omitempty"`

	// Filled on FAILED
	ErrorMsg string `gorm:"type:text" json:"error_msg,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// TTL is how long a ticket stays around before ambient GC may reap it.
const TTL = int64(86400)

// Chat is the per-(user, chat) listing row. Title is first-write-wins,
// LastActive moves on every submission.
type Chat struct {
	UserID     string `gorm:"primaryKey;size:128" json:"user_id"`
	ChatID     string `gorm:"primaryKey;size:64" json:"chat_id"`
	Title      string `gorm:"type:varchar(255)" json:"title"`
	LastActive int64  `gorm:"not null;index" json:"last_active"`
}

func (Chat) TableName() string { return "chats" }
