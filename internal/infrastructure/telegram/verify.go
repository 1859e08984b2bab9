// Package telegram checks the signed payloads produced by the Telegram Login
// Widget and by Mini-App launches.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"flowershop/internal/domain"
)

// DefaultMaxAge bounds how old auth_date may be.
const DefaultMaxAge = 24 * time.Hour

var (
	ErrNotConfigured = errors.New("telegram bot token not configured")
	ErrBadHash       = errors.New("telegram hash mismatch")
	ErrExpired       = errors.New("telegram auth_date too old")
	ErrMalformed     = errors.New("telegram payload malformed")
)

type Verifier struct {
	BotToken string
	MaxAge   time.Duration
	Now      func() time.Time
}

func (v *Verifier) maxAge() time.Duration {
	if v.MaxAge > 0 {
		return v.MaxAge
	}
	return DefaultMaxAge
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// VerifyLogin validates Login Widget callback fields.
func (v *Verifier) VerifyLogin(fields map[string]string) (domain.TelegramIdentity, error) {
	if strings.TrimSpace(v.BotToken) == "" {
		return domain.TelegramIdentity{}, ErrNotConfigured
	}
	hash := fields["hash"]
	if hash == "" {
		return domain.TelegramIdentity{}, fmt.Errorf("%w: hash missing", ErrMalformed)
	}
	if !equalHex(hash, SignLogin(v.BotToken, fields)) {
		return domain.TelegramIdentity{}, ErrBadHash
	}
	if err := v.checkAge(fields["auth_date"]); err != nil {
		return domain.TelegramIdentity{}, err
	}
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil || id <= 0 {
		return domain.TelegramIdentity{}, fmt.Errorf("%w: id", ErrMalformed)
	}
	return domain.TelegramIdentity{
		ID:        id,
		FirstName: fields["first_name"],
		LastName:  fields["last_name"],
		Username:  fields["username"],
		PhotoURL:  fields["photo_url"],
	}, nil
}

// VerifyMiniApp validates the raw initData query string of a Mini-App launch.
func (v *Verifier) VerifyMiniApp(initData string) (domain.TelegramIdentity, error) {
	if strings.TrimSpace(v.BotToken) == "" {
		return domain.TelegramIdentity{}, ErrNotConfigured
	}
	q, err := url.ParseQuery(initData)
	if err != nil {
		return domain.TelegramIdentity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fields := make(map[string]string, len(q))
	for k := range q {
		fields[k] = q.Get(k)
	}
	hash := fields["hash"]
	if hash == "" {
		return domain.TelegramIdentity{}, fmt.Errorf("%w: hash missing", ErrMalformed)
	}
	if !equalHex(hash, SignMiniApp(v.BotToken, fields)) {
		return domain.TelegramIdentity{}, ErrBadHash
	}
	if err := v.checkAge(fields["auth_date"]); err != nil {
		return domain.TelegramIdentity{}, err
	}
	var id domain.TelegramIdentity
	if err := json.Unmarshal([]byte(fields["user"]), &id); err != nil || id.ID <= 0 {
		return domain.TelegramIdentity{}, fmt.Errorf("%w: user", ErrMalformed)
	}
	return id, nil
}

func (v *Verifier) checkAge(raw string) error {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: auth_date", ErrMalformed)
	}
	if v.now().Sub(time.Unix(ts, 0)) > v.maxAge() {
		return ErrExpired
	}
	return nil
}

// DataCheckString joins every field except hash as sorted key=value lines.
func DataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	return strings.Join(lines, "\n")
}

// SignLogin computes the Login Widget hash: HMAC-SHA256 keyed by SHA256(token).
func SignLogin(botToken string, fields map[string]string) string {
	secret := sha256.Sum256([]byte(botToken))
	return sign(secret[:], DataCheckString(fields))
}

// SignMiniApp computes the Mini-App hash: HMAC-SHA256 keyed by
// HMAC-SHA256("WebAppData", token).
func SignMiniApp(botToken string, fields map[string]string) string {
	m := hmac.New(sha256.New, []byte("WebAppData"))
	m.Write([]byte(botToken))
	return sign(m.Sum(nil), DataCheckString(fields))
}

func sign(key []byte, data string) string {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

func equalHex(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(b))
}
