package document

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// URLSigner 下载链接签名器
// 链接形如 /api/v1/documents/:id/content?expires=<unix>&sig=<hmac>
type URLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewURLSigner 创建签名器
func NewURLSigner(secret string, ttl time.Duration) *URLSigner {
	return &URLSigner{secret: []byte(secret), ttl: ttl}
}

// Sign 生成带过期时间的下载链接（相对路径）
func (s *URLSigner) Sign(documentID string, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	sig := s.compute(documentID, expires)

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", sig)
	return fmt.Sprintf("/api/v1/documents/%s/content?%s", documentID, q.Encode())
}

// Verify 校验签名与有效期
func (s *URLSigner) Verify(documentID string, expires int64, sig string, now time.Time) error {
	if now.Unix() > expires {
		return fmt.Errorf("下载链接已过期")
	}

	expected := s.compute(documentID, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("下载链接签名无效")
	}
	return nil
}

func (s *URLSigner) compute(documentID string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", documentID, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
