package room

import (
	"crypto/rand"
	"encoding/hex"
)

// newViewerID returns a short random token identifying a viewer within its
// room. Uniqueness is enforced per room by the caller, so 4 random bytes are
// plenty against the 50-viewer cap.
func newViewerID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
