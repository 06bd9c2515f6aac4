package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const LocalPrefix = "local"

// New returns prefix-unixnano-random. The random suffix keeps ids unique when
// two calls land on the same clock tick.
func New(prefix string) string {
	return NewAt(prefix, time.Now())
}

func NewAt(prefix string, at time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, at.UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixNano(), hex.EncodeToString(buf))
}

func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix+"-")
}
