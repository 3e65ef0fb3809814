// Package vacancy はジョブボードの求人をドキュメントキャッシュに取り込む。
package vacancy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hitoshi/jobsync/internal/model"
)

var (
	numericID = regexp.MustCompile(`^[0-9]{1,20}$`)
	// vacancyPath は /vacancy/12345 および /vacancies/12345 にマッチする。
	vacancyPath = regexp.MustCompile(`^/(?:vacancy|vacancies)/([0-9]{1,20})/?$`)
)

// CanonicalID は求人IDまたは求人ページのURLから数値の求人IDを取り出す。
// 同じ求人を指す入力は同じIDになり、ドキュメントキャッシュのキーとして使われる。
func CanonicalID(source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("%w: empty source", model.ErrInvalidSource)
	}
	if numericID.MatchString(source) {
		return trimID(source)
	}

	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q is neither a vacancy id nor a URL", model.ErrInvalidSource, source)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", model.ErrInvalidSource, u.Scheme)
	}
	m := vacancyPath.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("%w: no vacancy id in %q", model.ErrInvalidSource, u.Path)
	}
	return trimID(m[1])
}

// trimID は先頭の0を取り除く。0のみのIDは不正。
func trimID(raw string) (string, error) {
	id := strings.TrimLeft(raw, "0")
	if id == "" {
		return "", fmt.Errorf("%w: zero vacancy id", model.ErrInvalidSource)
	}
	return id, nil
}
