package model

import (
	"fmt"
	"time"
)

// DocumentKind はキャッシュ対象ドキュメントの種類を表す。
type DocumentKind string

const (
	// DocumentKindResume は履歴書ドキュメント。
	DocumentKindResume DocumentKind = "resume"
	// DocumentKindVacancy は求人ドキュメント。
	DocumentKindVacancy DocumentKind = "vacancy"
)

// Valid は既知のドキュメント種別かを返す。
func (k DocumentKind) Valid() bool {
	return k == DocumentKindResume || k == DocumentKindVacancy
}

// ParseDocumentKind は文字列からDocumentKindを生成する。
func ParseDocumentKind(s string) (DocumentKind, error) {
	k := DocumentKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown document kind: %q", s)
	}
	return k, nil
}

// Payload はパース済みドキュメント本体のタグ付きユニオン。
// 種別ごとの具象型（ResumePayload, VacancyPayload）のみが実装する。
type Payload interface {
	Kind() DocumentKind
	// DisplayName は一覧表示用の名称（履歴書タイトル、求人名）を返す。
	DisplayName() string
}

// Document は所有者単位でコンテンツアドレス化されたドキュメント。
// (owner_id, source_hash) は種別ごとに一意で、作成後は不変。
type Document struct {
	ID         string
	OwnerID    string
	Kind       DocumentKind
	SourceHash string
	Title      string
	// RawPayload はストアに保存されるエンベロープ形式のバイト列。
	RawPayload []byte
	// Payload はRawPayloadをデコードした結果。リポジトリ層では設定されない。
	Payload   Payload
	CreatedAt time.Time
}

// ResumePayload はパース済みの履歴書。
type ResumePayload struct {
	Title      string             `cbor:"title" json:"title"`
	FullName   string             `cbor:"full_name,omitempty" json:"full_name,omitempty"`
	Summary    string             `cbor:"summary,omitempty" json:"summary,omitempty"`
	Skills     []string           `cbor:"skills,omitempty" json:"skills,omitempty"`
	Experience []ResumeExperience `cbor:"experience,omitempty" json:"experience,omitempty"`
	Education  []string           `cbor:"education,omitempty" json:"education,omitempty"`
	Languages  []string           `cbor:"languages,omitempty" json:"languages,omitempty"`
	Text       string             `cbor:"text,omitempty" json:"text,omitempty"`
}

// ResumeExperience は職歴の1エントリ。
type ResumeExperience struct {
	Company     string `cbor:"company" json:"company"`
	Position    string `cbor:"position" json:"position"`
	Start       string `cbor:"start,omitempty" json:"start,omitempty"`
	End         string `cbor:"end,omitempty" json:"end,omitempty"`
	Description string `cbor:"description,omitempty" json:"description,omitempty"`
}

// Kind はPayloadを実装する。
func (p *ResumePayload) Kind() DocumentKind { return DocumentKindResume }

// DisplayName はPayloadを実装する。
func (p *ResumePayload) DisplayName() string {
	if p.Title != "" {
		return p.Title
	}
	return p.FullName
}

// VacancyPayload はジョブボードから取得した求人。
type VacancyPayload struct {
	SourceID        string     `cbor:"source_id" json:"source_id"`
	Name            string     `cbor:"name" json:"name"`
	Employer        string     `cbor:"employer,omitempty" json:"employer,omitempty"`
	Area            string     `cbor:"area,omitempty" json:"area,omitempty"`
	URL             string     `cbor:"url,omitempty" json:"url,omitempty"`
	Experience      string     `cbor:"experience,omitempty" json:"experience,omitempty"`
	Schedule        string     `cbor:"schedule,omitempty" json:"schedule,omitempty"`
	KeySkills       []string   `cbor:"key_skills,omitempty" json:"key_skills,omitempty"`
	Salary          *Salary    `cbor:"salary,omitempty" json:"salary,omitempty"`
	DescriptionHTML string     `cbor:"description_html,omitempty" json:"description_html,omitempty"`
	DescriptionText string     `cbor:"description_text,omitempty" json:"description_text,omitempty"`
	PublishedAt     *time.Time `cbor:"published_at,omitempty" json:"published_at,omitempty"`
}

// Salary は求人の給与レンジ。
type Salary struct {
	From     *int   `cbor:"from,omitempty" json:"from,omitempty"`
	To       *int   `cbor:"to,omitempty" json:"to,omitempty"`
	Currency string `cbor:"currency,omitempty" json:"currency,omitempty"`
	Gross    *bool  `cbor:"gross,omitempty" json:"gross,omitempty"`
}

// Kind はPayloadを実装する。
func (p *VacancyPayload) Kind() DocumentKind { return DocumentKindVacancy }

// DisplayName はPayloadを実装する。
func (p *VacancyPayload) DisplayName() string { return p.Name }
