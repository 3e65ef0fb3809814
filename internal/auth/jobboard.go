// Package auth はジョブボード（OAuth2リソースサーバー）との認可コード交換とトークンリフレッシュを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultJobBoardAuthURL  = "https://hh.ru/oauth/authorize"
	defaultJobBoardTokenURL = "https://api.hh.ru/oauth/token"
	defaultTimeout          = 10 * time.Second
)

// JobBoardConfig はジョブボードOAuthプロバイダーの設定。
type JobBoardConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	// Timeout はトークンエンドポイント呼び出し1回あたりのタイムアウト。
	Timeout time.Duration
}

// TokenResponse はトークンエンドポイントの応答。
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn はexpires_inの値。応答に含まれない場合は0。
	ExpiresIn time.Duration
	// Expiry はライブラリが算出した絶対有効期限。ExpiresInが0の場合の代替に使う。
	Expiry time.Time
}

// EndpointError はトークンエンドポイントが非2xxを返したことを表す。
// 認可コードやリフレッシュトークンが拒否されたことを意味し、リトライしても成功しない。
type EndpointError struct {
	StatusCode int
	ErrorCode  string // OAuth2のerrorフィールド（invalid_grant等）
	Body       string
}

func (e *EndpointError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
}

// JobBoardProvider はgolang.org/x/oauth2を使ってジョブボードのトークンエンドポイントを呼び出す。
type JobBoardProvider struct {
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewJobBoardProvider はJobBoardProviderを生成する。
func NewJobBoardProvider(config JobBoardConfig) *JobBoardProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultJobBoardAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultJobBoardTokenURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	return &JobBoardProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// AuthCodeURL は認可エンドポイントのURLを生成する。
func (p *JobBoardProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange は認可コードをトークンに交換する（authorization_codeグラント）。
func (p *JobBoardProvider) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	tok, err := p.oauth.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, convertError(err)
	}
	return toTokenResponse(tok), nil
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する（refresh_tokenグラント）。
// 応答にrefresh_tokenが含まれない場合は元のリフレッシュトークンを引き継ぐ。
func (p *JobBoardProvider) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	expired := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	}
	tok, err := p.oauth.TokenSource(p.clientContext(ctx), expired).Token()
	if err != nil {
		return nil, convertError(err)
	}
	return toTokenResponse(tok), nil
}

func (p *JobBoardProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func toTokenResponse(tok *oauth2.Token) *TokenResponse {
	return &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
		Expiry:       tok.Expiry,
	}
}

// expiresIn は応答のexpires_inを取り出す。
func expiresIn(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

// convertError は*oauth2.RetrieveErrorを*EndpointErrorに変換する。
// それ以外（通信エラー、タイムアウト、不正な応答）はそのまま返す。
func convertError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ee := &EndpointError{ErrorCode: re.ErrorCode, Body: string(re.Body)}
		if re.Response != nil {
			ee.StatusCode = re.Response.StatusCode
		}
		return ee
	}
	return err
}

// IsRejected はerrがトークンエンドポイントによる拒否かを返す。
func IsRejected(err error) bool {
	var ee *EndpointError
	return errors.As(err, &ee)
}

// StatusCode はerrに含まれるトークンエンドポイントのHTTPステータスを返す。通信エラーの場合は0。
func StatusCode(err error) int {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return ee.StatusCode
	}
	return 0
}
