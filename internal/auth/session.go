package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName はセッションレコードを保持するCookieの名前。
const SessionCookieName = "_auth"

// SessionRecord はクライアント側に署名付きで保持されるセッション状態。
// サーバー側には一切永続化しない。改ざんは署名検証で検出され、
// 検証に失敗したレコードは「セッションなし（匿名）」と同一に扱われる。
type SessionRecord struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    int64 // アクセストークンの有効期限（エポックミリ秒）
	Subject      string
	IsAdmin      bool
	// LoginState はログインフロー中のみ使用するワンタイムnonce。
	// CompleteLoginが消費した後はクリアされる。
	LoginState string
}

// IsAnonymous はレコードが認証済みトークンを持たないことを判定する。
func (r SessionRecord) IsAnonymous() bool {
	return r.AccessToken == ""
}

// sessionClaims はセッションレコードのJWTペイロード。
// RegisteredClaimsのexpはCookie自体の有効期限（30日）であり、
// アクセストークンの有効期限（ExpiresAt）とは独立している。
type sessionClaims struct {
	jwt.RegisteredClaims
	AccessToken  string `json:"atk,omitempty"`
	RefreshToken string `json:"rtk,omitempty"`
	IDToken      string `json:"itk,omitempty"`
	ExpiresAt    int64  `json:"exp_ms,omitempty"`
	IsAdmin      bool   `json:"adm,omitempty"`
	LoginState   string `json:"st,omitempty"`
}

// SessionCodecConfig はセッションCodecの設定。
type SessionCodecConfig struct {
	Secret       string
	MaxAge       int // 秒
	CookieDomain string
	CookieSecure bool
}

// SessionCodec はSessionRecordとHS256署名付きCookie値の相互変換を行う。
// 署名シークレットはプロセス全体の設定として1つだけ持つ。
type SessionCodec struct {
	config SessionCodecConfig
	secret []byte
}

// NewSessionCodec はSessionCodecを生成する。
// シークレットが短すぎる場合はエラーを返す。
func NewSessionCodec(config SessionCodecConfig) (*SessionCodec, error) {
	if len(config.Secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 characters")
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 60 * 60 * 24 * 30
	}
	return &SessionCodec{
		config: config,
		secret: []byte(config.Secret),
	}, nil
}

// Encode はSessionRecordを署名してCookie値文字列に変換する。
func (c *SessionCodec) Encode(record SessionRecord) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   record.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(c.config.MaxAge) * time.Second)),
		},
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		IDToken:      record.IDToken,
		ExpiresAt:    record.ExpiresAt,
		IsAdmin:      record.IsAdmin,
		LoginState:   record.LoginState,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session record: %w", err)
	}
	return signed, nil
}

// Decode はCookie値を検証してSessionRecordに復元する。
// 署名不正・期限切れ・形式不正はすべて空レコード（匿名）を返し、エラーにはしない。
// 「認証済みへのフェイルオープン」は起こらず、常に匿名側に倒れる。
func (c *SessionCodec) Decode(cookieValue string) SessionRecord {
	if cookieValue == "" {
		return SessionRecord{}
	}

	var claims sessionClaims
	token, err := jwt.ParseWithClaims(cookieValue, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return SessionRecord{}
	}

	return SessionRecord{
		AccessToken:  claims.AccessToken,
		RefreshToken: claims.RefreshToken,
		IDToken:      claims.IDToken,
		ExpiresAt:    claims.ExpiresAt,
		Subject:      claims.RegisteredClaims.Subject,
		IsAdmin:      claims.IsAdmin,
		LoginState:   claims.LoginState,
	}
}

// ReadRecord はリクエストのCookieからセッションレコードを読み取る。
// Cookieが存在しない場合や検証に失敗した場合は空レコードを返す。
func (c *SessionCodec) ReadRecord(r *http.Request) SessionRecord {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return SessionRecord{}
	}
	return c.Decode(cookie.Value)
}

// WriteCookie はセッションレコードを署名してSet-Cookie用のCookieを生成する。
// httpOnly、SameSite=Lax、path=/、maxAge 30日（設定値）。
// secureはBASE_URLがhttpsの場合のみ有効になる。
func (c *SessionCodec) WriteCookie(record SessionRecord) (*http.Cookie, error) {
	value, err := c.Encode(record)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   c.config.MaxAge,
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ClearCookie はセッションを即時失効させるCookieを生成する。
func (c *SessionCodec) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
