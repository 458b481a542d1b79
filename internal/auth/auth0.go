package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultHTTPTimeout はプロバイダー呼び出しのデフォルトタイムアウト。
// 元実装にはタイムアウトがなく、ハング時にリクエストを巻き込む問題があった。
const defaultHTTPTimeout = 10 * time.Second

// Auth0Config はAuth0互換プロバイダーの設定。
type Auth0Config struct {
	Domain         string
	ClientID       string
	ClientSecret   string
	Audience       string
	CallbackURL    string
	LogoutReturnTo string

	// テスト用にオーバーライド可能なベースURL。
	// 未指定の場合は "https://{Domain}" を使用する。
	BaseURL string
}

// Auth0Provider はAuth0互換エンドポイント群に対するProvider実装。
// ローカル状態は持たない。
type Auth0Provider struct {
	config Auth0Config
	client *http.Client
}

// NewAuth0Provider はAuth0Providerを生成する。
func NewAuth0Provider(config Auth0Config) *Auth0Provider {
	if config.BaseURL == "" {
		config.BaseURL = "https://" + config.Domain
	}
	return &Auth0Provider{
		config: config,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// AuthorizeURL は認可エンドポイントのURLを生成する。
// スコープはopenid profile email。audienceが設定されている場合は付与する。
func (p *Auth0Provider) AuthorizeURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.CallbackURL},
		"scope":         {"openid profile email"},
	}
	if p.config.Audience != "" {
		params.Set("audience", p.config.Audience)
	}
	if state != "" {
		params.Set("state", state)
	}
	return p.config.BaseURL + "/authorize?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode は認可コードをトークン一式に交換する。
func (p *Auth0Provider) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.CallbackURL},
	}
	return p.fetchToken(ctx, "code_exchange", data)
}

// Refresh はリフレッシュトークンを新しいトークン一式に交換する。
func (p *Auth0Provider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"refresh_token": {refreshToken},
	}
	return p.fetchToken(ctx, "token_refresh", data)
}

// fetchToken はトークンエンドポイントへのフォームPOSTを実行する。
func (p *Auth0Provider) fetchToken(ctx context.Context, operation string, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// ボディにはプロバイダーのエラー詳細が含まれるためログにのみ記録する
		slog.Error("token endpoint returned non-success status",
			slog.String("operation", operation),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, &UpstreamAuthError{Operation: operation, StatusCode: resp.StatusCode}
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, &UpstreamAuthError{Operation: operation, StatusCode: resp.StatusCode}
	}

	return &TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      tokenResp.IDToken,
		ExpiresIn:    tokenResp.ExpiresIn,
		TokenType:    tokenResp.TokenType,
	}, nil
}

// FetchUserInfo はアクセストークンでuserinfoエンドポイントを呼び出す。
// 非2xxまたは不正なペイロードの場合は*TokenVerificationErrorを返す。
func (p *Auth0Provider) FetchUserInfo(ctx context.Context, accessToken string) (Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/userinfo", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TokenVerificationError{Reason: "userinfo request failed"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TokenVerificationError{Reason: "failed to read userinfo response"}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TokenVerificationError{Reason: fmt.Sprintf("userinfo returned status %d", resp.StatusCode)}
	}

	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, &TokenVerificationError{Reason: "malformed userinfo payload"}
	}

	if claims.Subject() == "" {
		return nil, &TokenVerificationError{Reason: "empty sub in userinfo payload"}
	}

	return claims, nil
}

// roleEntry はロール管理APIのレスポンス要素。
type roleEntry struct {
	Name string `json:"name"`
}

// FetchUserRoles は管理APIからユーザーのロール名一覧を取得する。
// GET /api/v2/users/{id}/roles
func (p *Auth0Provider) FetchUserRoles(ctx context.Context, accessToken, subject string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v2/users/%s/roles", p.config.BaseURL, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create roles request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roles request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("roles endpoint returned non-success status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, &UpstreamAuthError{Operation: "fetch_roles", StatusCode: resp.StatusCode}
	}

	var roles []roleEntry
	if err := json.Unmarshal(body, &roles); err != nil {
		return nil, fmt.Errorf("failed to parse roles response: %w", err)
	}

	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names, nil
}

// UpdateUserProfile は管理APIでユーザープロフィールを更新する。
// PATCH /api/v2/users/{id}
func (p *Auth0Provider) UpdateUserProfile(ctx context.Context, accessToken, subject string, updates map[string]any) (Claims, error) {
	payload, err := json.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile updates: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/users/%s", p.config.BaseURL, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create profile update request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile update request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile update response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("profile update endpoint returned non-success status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, &UpstreamAuthError{Operation: "update_profile", StatusCode: resp.StatusCode}
	}

	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse profile update response: %w", err)
	}

	return claims, nil
}

// LogoutURL はプロバイダーのログアウトエンドポイントのURLを返す。
// GET /v2/logout?client_id&returnTo
func (p *Auth0Provider) LogoutURL() string {
	params := url.Values{
		"client_id": {p.config.ClientID},
		"returnTo":  {p.config.LogoutReturnTo},
	}
	return p.config.BaseURL + "/v2/logout?" + params.Encode()
}

// compile-time interface check
var _ Provider = (*Auth0Provider)(nil)
