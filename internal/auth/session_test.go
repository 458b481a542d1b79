package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestCodec(t *testing.T) *SessionCodec {
	t.Helper()
	codec, err := NewSessionCodec(SessionCodecConfig{
		Secret: "test-secret-0123456789abcdef",
		MaxAge: 3600,
	})
	if err != nil {
		t.Fatalf("NewSessionCodec() error = %v", err)
	}
	return codec
}

func TestNewSessionCodec_ShortSecret_ReturnsError(t *testing.T) {
	_, err := NewSessionCodec(SessionCodecConfig{Secret: "short"})
	if err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestSessionCodec_EncodeDecode_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	record := SessionRecord{
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		IDToken:      "id-token-1",
		ExpiresAt:    1700000000000,
		Subject:      "auth0|user-123",
		IsAdmin:      true,
		LoginState:   "state-abc",
	}

	value, err := codec.Encode(record)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded := codec.Decode(value)

	if decoded.AccessToken != record.AccessToken {
		t.Errorf("AccessToken = %q, want %q", decoded.AccessToken, record.AccessToken)
	}
	if decoded.RefreshToken != record.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", decoded.RefreshToken, record.RefreshToken)
	}
	if decoded.IDToken != record.IDToken {
		t.Errorf("IDToken = %q, want %q", decoded.IDToken, record.IDToken)
	}
	if decoded.ExpiresAt != record.ExpiresAt {
		t.Errorf("ExpiresAt = %d, want %d", decoded.ExpiresAt, record.ExpiresAt)
	}
	if decoded.Subject != record.Subject {
		t.Errorf("Subject = %q, want %q", decoded.Subject, record.Subject)
	}
	if !decoded.IsAdmin {
		t.Error("IsAdmin should survive the round trip")
	}
	if decoded.LoginState != record.LoginState {
		t.Errorf("LoginState = %q, want %q", decoded.LoginState, record.LoginState)
	}
}

func TestSessionCodec_Decode_EmptyValue_ReturnsAnonymous(t *testing.T) {
	codec := newTestCodec(t)

	record := codec.Decode("")
	if !record.IsAnonymous() {
		t.Error("empty cookie value should decode to anonymous record")
	}
}

func TestSessionCodec_Decode_TamperedToken_ReturnsAnonymous(t *testing.T) {
	codec := newTestCodec(t)

	value, err := codec.Encode(SessionRecord{
		AccessToken: "access-token-1",
		Subject:     "auth0|user-123",
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// ペイロード部分を改ざんする
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		t.Fatalf("expected JWT with 3 parts, got %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	record := codec.Decode(tampered)
	if !record.IsAnonymous() {
		t.Error("tampered token should decode to anonymous record, not an error")
	}
}

func TestSessionCodec_Decode_WrongSecret_ReturnsAnonymous(t *testing.T) {
	codec := newTestCodec(t)

	other, err := NewSessionCodec(SessionCodecConfig{
		Secret: "another-secret-0123456789abcdef",
		MaxAge: 3600,
	})
	if err != nil {
		t.Fatalf("NewSessionCodec() error = %v", err)
	}

	value, err := other.Encode(SessionRecord{AccessToken: "access-token-1"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	record := codec.Decode(value)
	if !record.IsAnonymous() {
		t.Error("token signed with a different secret should decode to anonymous record")
	}
}

func TestSessionCodec_Decode_GarbageValue_ReturnsAnonymous(t *testing.T) {
	codec := newTestCodec(t)

	record := codec.Decode("not-a-jwt-at-all")
	if !record.IsAnonymous() {
		t.Error("garbage cookie value should decode to anonymous record")
	}
}

func TestSessionCodec_WriteCookie_Attributes(t *testing.T) {
	codec, err := NewSessionCodec(SessionCodecConfig{
		Secret:       "test-secret-0123456789abcdef",
		MaxAge:       60 * 60 * 24 * 30,
		CookieSecure: true,
	})
	if err != nil {
		t.Fatalf("NewSessionCodec() error = %v", err)
	}

	cookie, err := codec.WriteCookie(SessionRecord{AccessToken: "token"})
	if err != nil {
		t.Fatalf("WriteCookie() error = %v", err)
	}

	if cookie.Name != SessionCookieName {
		t.Errorf("cookie name = %q, want %q", cookie.Name, SessionCookieName)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Error("session cookie should use SameSite=Lax")
	}
	if cookie.Path != "/" {
		t.Errorf("cookie path = %q, want %q", cookie.Path, "/")
	}
	if cookie.MaxAge != 60*60*24*30 {
		t.Errorf("cookie maxAge = %d, want %d", cookie.MaxAge, 60*60*24*30)
	}
	if !cookie.Secure {
		t.Error("cookie should be Secure when configured")
	}
}

func TestSessionCodec_ClearCookie_ExpiresImmediately(t *testing.T) {
	codec := newTestCodec(t)

	cookie := codec.ClearCookie()

	if cookie.Name != SessionCookieName {
		t.Errorf("cookie name = %q, want %q", cookie.Name, SessionCookieName)
	}
	if cookie.MaxAge != -1 {
		t.Errorf("cookie maxAge = %d, want -1", cookie.MaxAge)
	}
	if cookie.Value != "" {
		t.Errorf("cookie value = %q, want empty", cookie.Value)
	}
}

func TestSessionCodec_ReadRecord_FromRequest(t *testing.T) {
	codec := newTestCodec(t)

	value, err := codec.Encode(SessionRecord{
		AccessToken: "access-token-1",
		Subject:     "auth0|user-123",
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})

	record := codec.ReadRecord(r)
	if record.Subject != "auth0|user-123" {
		t.Errorf("Subject = %q, want %q", record.Subject, "auth0|user-123")
	}
}

func TestSessionCodec_ReadRecord_NoCookie_ReturnsAnonymous(t *testing.T) {
	codec := newTestCodec(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)

	record := codec.ReadRecord(r)
	if !record.IsAnonymous() {
		t.Error("request without session cookie should yield anonymous record")
	}
}
