package ioutil

import (
	"fmt"
	"io"
)

const truncatedMarker = "...(truncated)"

// maxDrain bounds how much of an unread body DrainAndClose will discard
// before giving up on connection reuse.
const maxDrain = 64 << 10

// ReadLimited reads up to limit bytes from r for use in error messages and
// logs. Longer content is cut and marked; a read failure is described instead
// of being silenced.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	if int64(len(body)) > limit {
		return string(body[:limit]) + truncatedMarker
	}
	return string(body)
}

// DrainAndClose discards what is left of rc and closes it so the underlying
// connection can be reused.
func DrainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxDrain))
	_ = rc.Close()
}
