// Package texthash computes the deterministic text_hash used to detect
// whether a row's embedding input has changed since the last sync cycle.
package texthash

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// noiseTokens are stripped from normalized text before hashing and embedding.
// This list is part of the embedding_version contract: changing it forces a
// version bump so stale hashes can never be mistaken for current ones.
var noiseTokens = []string{
	"1080p", "720p", "2160p", "480p", "4k", "8k", "uhd", "hdr", "hdr10",
	"x264", "x265", "h264", "h265", "hevc", "avc",
	"bluray", "blu-ray", "webrip", "web-dl", "webdl", "hdtv", "dvdrip", "brrip",
	"mkv", "mp4", "avi",
	"aac", "ac3", "dts", "flac",
}

// Normalize lowercases text, strips known noise tokens, and collapses
// whitespace. The result is what both hashing and embedding operate on.
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	fields := strings.Fields(lowered)

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		trimmed := strings.Trim(f, ".,()[]{}-_")
		if isNoiseToken(trimmed) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func isNoiseToken(token string) bool {
	for _, n := range noiseTokens {
		if token == n {
			return true
		}
	}
	return false
}

// Hash returns the BLAKE2b-128 hex digest of the normalized text. Two texts
// that normalize identically always hash identically, regardless of original
// formatting differences (case, release-tag noise, whitespace).
func Hash(text string) (string, error) {
	normalized := Normalize(text)
	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil)), nil
}
