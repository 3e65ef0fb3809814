package security

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// DescriptionSanitizer はジョブボードから取得した求人説明のHTMLを扱う。
type DescriptionSanitizer interface {
	// Sanitize は許可リスト外のタグと属性を除去したHTMLを返す。
	Sanitize(rawHTML string) string
	// PlainText はHTMLを段落と箇条書きを保ったプレーンテキストに変換する。
	PlainText(rawHTML string) string
}

// HTMLSanitizer はbluemondayによるDescriptionSanitizerの実装。
// bluemonday.Policyは並行利用可能。
type HTMLSanitizer struct {
	policy *bluemonday.Policy
}

// NewHTMLSanitizer はHTMLSanitizerを生成する。
// 求人説明に現れる見出し・段落・リスト・強調のみを許可し、リンクと画像は除去する。
func NewHTMLSanitizer() *HTMLSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "b", "em", "i",
		"h3", "h4", "blockquote",
	)
	return &HTMLSanitizer{policy: p}
}

// Sanitize はDescriptionSanitizerを実装する。
func (s *HTMLSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// PlainText はDescriptionSanitizerを実装する。
// script/styleの中身は出力しない。
func (s *HTMLSanitizer) PlainText(rawHTML string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return normalizeLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.WriteString(strings.Map(func(r rune) rune {
					if r == '\n' || r == '\r' || r == '\t' {
						return ' '
					}
					return r
				}, string(z.Text())))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br":
				b.WriteString("\n")
			case "li":
				b.WriteString("\n- ")
			case "p", "h1", "h2", "h3", "h4", "ul", "ol", "blockquote", "div":
				b.WriteString("\n\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "h1", "h2", "h3", "h4", "ul", "ol", "blockquote", "div":
				b.WriteString("\n\n")
			}
		}
	}
}

// normalizeLines は各行の空白をまとめ、3行以上の空行を1つの空行にする。
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

var _ DescriptionSanitizer = (*HTMLSanitizer)(nil)
