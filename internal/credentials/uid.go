package credentials

import "unicode/utf16"

// MaxUID is the largest numeric id the media SDK accepts.
const MaxUID = 1<<32 - 1

// UID maps an opaque account identifier onto the media SDK's numeric id range
// [1, MaxUID]. The mapping is a 32-bit rolling hash over UTF-16 code units, so it
// is stable across processes. 0 is reserved by the SDK for server-assigned ids and
// is never returned. Collisions are accepted.
func UID(identifier string) uint32 {
	var h int32
	for _, u := range utf16.Encode([]rune(identifier)) {
		h = h*31 + int32(u)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	v %= MaxUID
	if v == 0 {
		return 1
	}
	return uint32(v)
}
