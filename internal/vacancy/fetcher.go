package vacancy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/jobsync/internal/document"
	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/security"
)

const (
	// DefaultMaxBodySize は求人APIレスポンスの最大サイズ。
	DefaultMaxBodySize = 5 * 1024 * 1024
	userAgent          = "jobsync/1.0 (vacancy-fetcher)"
)

// publishedAtLayout はジョブボードAPIの日時形式（タイムゾーンにコロンなし）。
const publishedAtLayout = "2006-01-02T15:04:05-0700"

// TokenSource はプリンシパルの有効なアクセストークンを返す。token.Managerが実装する。
type TokenSource interface {
	GetValidToken(ctx context.Context, principalID string) (string, error)
}

// FetchError は求人APIが2xx以外を返したことを表す。
type FetchError struct {
	VacancyID  string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("vacancy %s: job board returned status %d", e.VacancyID, e.StatusCode)
}

// Fetcher はジョブボードAPIから求人を取得する。
type Fetcher struct {
	httpClient  *http.Client
	tokens      TokenSource
	sanitizer   security.DescriptionSanitizer
	apiURL      string
	maxBodySize int64
	logger      *slog.Logger
}

// NewFetcher はFetcherを生成する。apiURLはジョブボードAPIのベースURL（例: https://api.hh.ru）。
func NewFetcher(httpClient *http.Client, tokens TokenSource, sanitizer security.DescriptionSanitizer, apiURL string, maxBodySize int64, logger *slog.Logger) *Fetcher {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		httpClient:  httpClient,
		tokens:      tokens,
		sanitizer:   sanitizer,
		apiURL:      strings.TrimRight(apiURL, "/"),
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// apiVacancy はジョブボードの求人レスポンスのうち利用するフィールド。
type apiVacancy struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	AlternateURL string     `json:"alternate_url"`
	Description  string     `json:"description"`
	PublishedAt  string     `json:"published_at"`
	Employer     *namedRef  `json:"employer"`
	Area         *namedRef  `json:"area"`
	Experience   *namedRef  `json:"experience"`
	Schedule     *namedRef  `json:"schedule"`
	KeySkills    []namedRef `json:"key_skills"`
	Salary       *struct {
		From     *int   `json:"from"`
		To       *int   `json:"to"`
		Currency string `json:"currency"`
		Gross    *bool  `json:"gross"`
	} `json:"salary"`
}

type namedRef struct {
	Name string `json:"name"`
}

func (r *namedRef) name() string {
	if r == nil {
		return ""
	}
	return r.Name
}

// Fetch はprincipalIDのアクセストークンで求人を取得する。
// トークンの取得に失敗した場合はトークンマネージャのエラーをそのまま返す。
func (f *Fetcher) Fetch(ctx context.Context, principalID, vacancyID string) (*model.VacancyPayload, error) {
	accessToken, err := f.tokens.GetValidToken(ctx, principalID)
	if err != nil {
		return nil, err
	}

	reqURL := f.apiURL + "/vacancies/" + url.PathEscape(vacancyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build vacancy request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("vacancy request failed",
			slog.String("vacancy_id", vacancyID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("vacancy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("job board returned error status",
			slog.String("vacancy_id", vacancyID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &FetchError{VacancyID: vacancyID, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read vacancy response: %w", err)
	}

	var v apiVacancy
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode vacancy %s: %w", vacancyID, err)
	}

	f.logger.Info("vacancy fetched",
		slog.String("vacancy_id", vacancyID),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return f.toPayload(vacancyID, &v), nil
}

func (f *Fetcher) toPayload(vacancyID string, v *apiVacancy) *model.VacancyPayload {
	p := &model.VacancyPayload{
		SourceID:   vacancyID,
		Name:       strings.TrimSpace(v.Name),
		Employer:   v.Employer.name(),
		Area:       v.Area.name(),
		URL:        v.AlternateURL,
		Experience: v.Experience.name(),
		Schedule:   v.Schedule.name(),
	}
	for _, s := range v.KeySkills {
		if s.Name != "" {
			p.KeySkills = append(p.KeySkills, s.Name)
		}
	}
	if v.Salary != nil {
		p.Salary = &model.Salary{
			From:     v.Salary.From,
			To:       v.Salary.To,
			Currency: v.Salary.Currency,
			Gross:    v.Salary.Gross,
		}
	}
	if v.Description != "" {
		p.DescriptionHTML = f.sanitizer.Sanitize(v.Description)
		p.DescriptionText = f.sanitizer.PlainText(v.Description)
	}
	if v.PublishedAt != "" {
		if t, err := time.Parse(publishedAtLayout, v.PublishedAt); err == nil {
			t = t.UTC()
			p.PublishedAt = &t
		} else {
			f.logger.Warn("unparseable published_at",
				slog.String("vacancy_id", vacancyID),
				slog.String("published_at", v.PublishedAt),
			)
		}
	}
	return p
}

// ParseFunc はドキュメントキャッシュに渡すパース関数を返す。
// キャッシュの生入力は正規化済みの求人IDである。
func (f *Fetcher) ParseFunc(principalID string) document.ParseFunc {
	return func(ctx context.Context, raw []byte) (model.Payload, error) {
		return f.Fetch(ctx, principalID, strings.TrimSpace(string(raw)))
	}
}
