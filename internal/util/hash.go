// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
)

// DescriptionDigest computes a 4-byte hash of an SDP payload. It lets logs
// correlate the offer one endpoint created with the one its peer applied
// without printing the whole blob at info level.
func DescriptionDigest(sdp string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(sdp))
	return h.Sum32()
}
