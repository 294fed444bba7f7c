package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"convodb/pkg/store/keys"
	"convodb/pkg/timeutil"
)

var (
	ErrBadSignature = errors.New("bad signature")
	ErrExpired      = errors.New("url expired")
)

const (
	actionGet = "get"
	actionPut = "put"
)

// Signer issues time-limited URLs for handles kept in an external blob
// store. Expiries are aligned to TTL boundaries so a handle resolves to the
// same URL for a whole window.
type Signer struct {
	base  string
	key   []byte
	ttl   time.Duration
	clock timeutil.Clock
}

func NewSigner(baseURL, signingKey string, ttl time.Duration, clock timeutil.Clock) (*Signer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("blob base url is required")
	}
	if signingKey == "" {
		return nil, fmt.Errorf("blob signing key is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = timeutil.System
	}
	return &Signer{base: strings.TrimRight(baseURL, "/"), key: []byte(signingKey), ttl: ttl, clock: clock}, nil
}

// ResolveURL returns a signed download URL for handle.
func (s *Signer) ResolveURL(handle string) string {
	if handle == "" {
		return ""
	}
	return s.signedURL(actionGet, handle, s.expiry())
}

// Upload is a fresh handle and the URL a client should PUT the content to.
type Upload struct {
	Handle    string `json:"handle"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Signer) UploadURL() Upload {
	h := keys.NewID()
	exp := s.expiry()
	return Upload{Handle: h, URL: s.signedURL(actionPut, h, exp), ExpiresAt: exp}
}

// Verify checks a signature previously issued for action on handle.
func (s *Signer) Verify(action, handle, exp, sig string) error {
	e, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	want := s.sign(action, handle, e)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	if s.clock.Now().Unix() > e {
		return ErrExpired
	}
	return nil
}

func (s *Signer) expiry() int64 {
	ttl := int64(s.ttl / time.Second)
	if ttl <= 0 {
		ttl = 1
	}
	now := s.clock.Now().Unix()
	return (now/ttl + 2) * ttl
}

func (s *Signer) signedURL(action, handle string, exp int64) string {
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.sign(action, handle, exp))
	return s.base + "/" + url.PathEscape(handle) + "?" + q.Encode()
}

func (s *Signer) sign(action, handle string, exp int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(action))
	mac.Write([]byte{0})
	mac.Write([]byte(handle))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
