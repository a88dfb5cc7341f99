package feed

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/d60-Lab/socialsync/pkg/apperror"
)

// Cursor is the (created_at, id) position of the last item a reader saw.
// The zero Cursor starts from the newest item.
type Cursor struct {
	CreatedAt time.Time
	PostID    string
}

func (c Cursor) IsZero() bool { return c.PostID == "" }

// Encode 不透明游标：微秒时间戳|帖子 ID
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UTC().UnixMicro(), 10) + "|" + c.PostID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, apperror.Validation("malformed cursor")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, apperror.Validation("malformed cursor")
	}
	us, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, apperror.Validation("malformed cursor")
	}
	return Cursor{CreatedAt: time.UnixMicro(us).UTC(), PostID: id}, nil
}
