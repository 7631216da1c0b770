package storage

import (
	"crypto/rand"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// KeyPrefix はレポート画像のオブジェクトキーの接頭辞。
const KeyPrefix = "lostItems/"

const maxFileNameLength = 100

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewObjectKey は "lostItems/<ULID>_<ファイル名>" 形式のオブジェクトキーを生成する。
// ULIDはミリ秒タイムスタンプと単調増加のエントロピーから作るため、同一ミリ秒内でも衝突しない。
func NewObjectKey(filename string) string {
	return newObjectKeyAt(time.Now(), filename)
}

func newObjectKeyAt(t time.Time, filename string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyMu.Unlock()
	return KeyPrefix + id.String() + "_" + SanitizeFileName(filename)
}

// SanitizeFileName はパス要素を取り除き、英数字と . _ - 以外を "_" に置き換える。
func SanitizeFileName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		name = "image"
	}
	if len(name) > maxFileNameLength {
		name = name[len(name)-maxFileNameLength:]
	}
	return name
}

// ValidateObjectKey はキーがNewObjectKeyの形式に従っているかを検証する。
func ValidateObjectKey(key string) error {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return fmt.Errorf("object key must start with %q", KeyPrefix)
	}
	idPart, name, ok := strings.Cut(rest, "_")
	if !ok || name == "" {
		return fmt.Errorf("object key must be <ulid>_<filename>: %q", key)
	}
	if _, err := ulid.ParseStrict(idPart); err != nil {
		return fmt.Errorf("invalid ulid in object key: %w", err)
	}
	if SanitizeFileName(name) != name {
		return fmt.Errorf("invalid filename in object key: %q", name)
	}
	return nil
}
