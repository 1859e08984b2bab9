package telegram

import (
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"
)

const botToken = "123456:TEST-token"

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func loginFields(authDate time.Time) map[string]string {
	f := map[string]string{
		"id":         "4242",
		"first_name": "Anna",
		"username":   "anna_flowers",
		"auth_date":  strconv.FormatInt(authDate.Unix(), 10),
	}
	f["hash"] = SignLogin(botToken, f)
	return f
}

func TestVerifyLogin(t *testing.T) {
	v := &Verifier{BotToken: botToken, Now: func() time.Time { return now }}
	id, err := v.VerifyLogin(loginFields(now.Add(-time.Hour)))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ID != 4242 || id.DisplayName() != "Anna" {
		t.Fatalf("identity %+v", id)
	}
}

func TestVerifyLoginRejectsTampering(t *testing.T) {
	v := &Verifier{BotToken: botToken, Now: func() time.Time { return now }}
	f := loginFields(now.Add(-time.Hour))
	f["id"] = "1"
	if _, err := v.VerifyLogin(f); !errors.Is(err, ErrBadHash) {
		t.Fatalf("expected ErrBadHash, got %v", err)
	}
	other := &Verifier{BotToken: "999:other", Now: func() time.Time { return now }}
	if _, err := other.VerifyLogin(loginFields(now)); !errors.Is(err, ErrBadHash) {
		t.Fatalf("foreign bot token accepted: %v", err)
	}
}

func TestVerifyLoginRejectsStaleAuthDate(t *testing.T) {
	v := &Verifier{BotToken: botToken, Now: func() time.Time { return now }}
	if _, err := v.VerifyLogin(loginFields(now.Add(-25 * time.Hour))); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRequiresToken(t *testing.T) {
	v := &Verifier{}
	if _, err := v.VerifyLogin(loginFields(now)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestVerifyMiniApp(t *testing.T) {
	fields := map[string]string{
		"query_id":  "AAE",
		"user":      `{"id":777,"first_name":"Ivan","last_name":"P","username":"ivanp"}`,
		"auth_date": strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
	}
	fields["hash"] = SignMiniApp(botToken, fields)
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}

	v := &Verifier{BotToken: botToken, Now: func() time.Time { return now }}
	id, err := v.VerifyMiniApp(q.Encode())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ID != 777 || id.DisplayName() != "Ivan P" {
		t.Fatalf("identity %+v", id)
	}

	// Widget signing must not validate a Mini-App payload.
	fields["hash"] = SignLogin(botToken, fields)
	q.Set("hash", fields["hash"])
	if _, err := v.VerifyMiniApp(q.Encode()); !errors.Is(err, ErrBadHash) {
		t.Fatalf("expected ErrBadHash, got %v", err)
	}
}
