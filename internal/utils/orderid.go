package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateOrderID builds a traceable order identifier:
// <type>_<entity>_<user>_<unixts>_<suffix>. The embedded parts make a single
// id enough to locate the purchase in logs and provider dashboards.
func GenerateOrderID(orderType, entityID string, userID uint) string {
	ts := time.Now().UTC().Unix()

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// fallback: time-based entropy
		return fmt.Sprintf("%s_%s_%d_%d_%08x", orderType, entityID, userID, ts, time.Now().UnixNano())
	}

	return fmt.Sprintf("%s_%s_%d_%d_%s", orderType, entityID, userID, ts, hex.EncodeToString(buf))
}
