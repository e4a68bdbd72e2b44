package jwt

import (
	"testing"
	"time"

	"github.com/baifan-cn/Edusched/config"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(&config.AuthConfig{
		JWTSecret:      "test-secret-at-least-16-chars",
		AccessTokenTTL: ttl,
	})
}

func TestGenerateAndParseAccessToken(t *testing.T) {
	mgr := newTestManager(15 * time.Minute)

	token, err := mgr.GenerateAccessToken("user-1", "tenant-1", "admin")
	if err != nil {
		t.Fatalf("生成 token 失败: %v", err)
	}

	claims, err := mgr.ParseToken(token)
	if err != nil {
		t.Fatalf("解析 token 失败: %v", err)
	}

	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
	}
	if claims.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q, want %q", claims.TenantID, "tenant-1")
	}
	if claims.TokenType != "access" {
		t.Errorf("TokenType = %q, want %q", claims.TokenType, "access")
	}
}

func TestParseExpiredToken(t *testing.T) {
	mgr := newTestManager(-time.Minute)

	token, err := mgr.GenerateAccessToken("user-1", "tenant-1", "admin")
	if err != nil {
		t.Fatalf("生成 token 失败: %v", err)
	}

	if _, err := mgr.ParseToken(token); err != ErrTokenExpired {
		t.Errorf("ParseToken err = %v, want ErrTokenExpired", err)
	}
}

func TestParseInvalidToken(t *testing.T) {
	mgr := newTestManager(15 * time.Minute)

	if _, err := mgr.ParseToken("not-a-token"); err != ErrTokenInvalid {
		t.Errorf("ParseToken err = %v, want ErrTokenInvalid", err)
	}

	// 其他密钥签发的 token 同样无效
	other := NewManager(&config.AuthConfig{
		JWTSecret:      "another-secret-16-chars!",
		AccessTokenTTL: 15 * time.Minute,
	})
	token, _ := other.GenerateAccessToken("user-1", "tenant-1", "admin")
	if _, err := mgr.ParseToken(token); err != ErrTokenInvalid {
		t.Errorf("ParseToken err = %v, want ErrTokenInvalid", err)
	}
}
