package shardedfile

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/mnohosten/relaydb/pkg/document"
)

// maxSafeNameLen bounds the human-readable portion of a generated filename,
// keeping paths well under common filesystem limits even for pathological
// ids (long strings, deeply nested composite keys).
const maxSafeNameLen = 48

// hashOf returns the blake2b-256 digest of value's canonical string form, so
// that structurally equal ids/index keys always shard and name identically
// regardless of their original Go type (string, int64, composite map...).
func hashOf(value interface{}) [32]byte {
	sum, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors when a non-nil MAC key has the wrong
		// length; nil is always valid, so this is unreachable.
		panic(err)
	}
	sum.Write([]byte(document.CanonicalString(value)))
	var out [32]byte
	copy(out[:], sum.Sum(nil))
	return out
}

// shardDirs splits a digest into the two path segments a value's file
// lives under: items/<shard1>/<shard2>/<name>. Two hex-byte levels give 256
// times 256 buckets, enough to keep any one directory small for the
// document counts a client-side store is expected to hold.
func shardDirs(sum [32]byte) (string, string) {
	return hex.EncodeToString(sum[0:1]), hex.EncodeToString(sum[1:2])
}

// safeName turns value's canonical string into a name that is safe to use
// as a path segment on every common filesystem: non [A-Za-z0-9._-]
// characters are replaced, the human-readable part is truncated, and the
// full digest is appended so distinct values never collide even after
// truncation or character replacement.
func safeName(value interface{}) string {
	canon := document.CanonicalString(value)
	sum := hashOf(value)

	var b strings.Builder
	for i, r := range canon {
		if i >= maxSafeNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() > 0 {
		b.WriteByte('-')
	}
	b.WriteString(hex.EncodeToString(sum[:8]))
	return b.String()
}

// itemPath returns the items/<shard1>/<shard2>/<name> relative path an id's
// document is stored under.
func itemPath(id interface{}) (dir, name string) {
	sum := hashOf(id)
	s1, s2 := shardDirs(sum)
	return "items/" + s1 + "/" + s2, safeName(id)
}

// indexBucketPath returns the index/<field>/<bucket> relative path the
// bucket file for one index key lives at. Field paths are themselves run
// through safeName since they may contain dots from nested field paths,
// which would otherwise be read as directory separators.
func indexBucketPath(fieldPath string, key interface{}) (dir, name string) {
	return "index/" + safeName(fieldPath), safeName(key)
}
