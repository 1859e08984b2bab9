package domain

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name"`
	TelegramID   int64     `json:"telegram_id,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	BonusBalance int64     `json:"bonus_balance"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResult is what every login endpoint returns.
type AuthResult struct {
	TokenPair
	User User `json:"user"`
}

// TelegramIdentity is the verified subset of a Telegram login payload.
type TelegramIdentity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

func (t TelegramIdentity) DisplayName() string {
	name := t.FirstName
	if t.LastName != "" {
		name += " " + t.LastName
	}
	if name == "" {
		name = t.Username
	}
	return name
}
