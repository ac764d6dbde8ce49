package models

import (
	"regexp"
	"strings"
)

var (
	dateKeyPattern = regexp.MustCompile(`^[A-Za-z]+ +\d{1,2}\b`)
	unsafeIDChars  = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// NormalizeDateKey truncates a receipt timestamp to its "<Month> <Day>" bucket.
// Timestamps that don't match are returned unchanged and become their own bucket.
func NormalizeDateKey(ts string) string {
	if m := dateKeyPattern.FindString(ts); m != "" {
		return m
	}
	return ts
}

// ShardID turns a bucket key into a storage-safe document id.
func ShardID(key string) string {
	return unsafeIDChars.ReplaceAllString(key, "_")
}

// BucketOf returns the shard id an event is stored under.
func BucketOf(e *Event) string {
	return ShardID(NormalizeDateKey(strings.TrimSpace(e.Timestamp)))
}
