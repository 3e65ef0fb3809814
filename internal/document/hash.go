package document

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/hitoshi/jobsync/internal/model"
)

// domainKey はBLAKE3キー付きハッシュの32バイトの鍵。
// 種別ごとに鍵を分けることで、同じ入力でも種別が違えば異なるハッシュになる。
type domainKey [32]byte

// 鍵の値は変更しないこと。変更すると既存のsource_hashがすべて無効になる。
var (
	resumeDomainKey = domainKey{
		'j', 'o', 'b', 's', 'y', 'n', 'c', '.', 'd', 'o', 'c', 'u', 'm', 'e', 'n', 't',
		'.', 'r', 'e', 's', 'u', 'm', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	vacancyDomainKey = domainKey{
		'j', 'o', 'b', 's', 'y', 'n', 'c', '.', 'd', 'o', 'c', 'u', 'm', 'e', 'n', 't',
		'.', 'v', 'a', 'c', 'a', 'n', 'c', 'y', 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// SourceHash は正規化した入力のハッシュを16進文字列（64文字）で返す。
//
// 履歴書: UTF-8テキストの場合は改行を\nに統一し、行末と前後の空白を除去してからハッシュする。
// それ以外（PDF等のバイナリ）はバイト列をそのままハッシュする。
// 求人: 正規化済みの求人ID（前後の空白のみ除去）をハッシュする。
func SourceHash(kind model.DocumentKind, raw []byte) string {
	var key domainKey
	var normalized []byte
	switch kind {
	case model.DocumentKindVacancy:
		key = vacancyDomainKey
		normalized = bytes.TrimSpace(raw)
	default:
		key = resumeDomainKey
		normalized = normalizeResume(raw)
	}

	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("document: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(normalized)
	return hex.EncodeToString(hasher.Sum(nil))
}

func normalizeResume(raw []byte) []byte {
	if !isText(raw) {
		return raw
	}
	s := strings.ReplaceAll(string(raw), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return []byte(strings.TrimSpace(strings.Join(lines, "\n")))
}

// isText はrawがNULを含まない有効なUTF-8かを判定する。
func isText(raw []byte) bool {
	return utf8.Valid(raw) && bytes.IndexByte(raw, 0) < 0
}
