package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a time-ordered identifier with the given prefix.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

// SaleNumber returns the display number for a sale created at t, e.g.
// V1718031234567-9f3a. The millisecond part keeps numbers roughly ordered and
// the random suffix separates sales created in the same millisecond.
func SaleNumber(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:4]
	return fmt.Sprintf("V%d-%s", t.UnixMilli(), suffix)
}
