package common

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewJobID mints a ticket identifier of the form job-<unix>-<uuid8>.
// The timestamp prefix keeps IDs roughly sortable in ops tooling; the
// uuid fragment makes them collision-free.
func NewJobID() string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("job-%d-%s", time.Now().Unix(), u[:8])
}

// NewULID mints a 26-char lexicographically sortable ID, used for chat IDs.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
