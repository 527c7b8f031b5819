package main

import (
	"strconv"
	"time"
)

// User represents a registered account
type User struct {
	ID           int64
	Email        string
	Password     string // bcrypt hash, never the plaintext
	FullName     string
	IsAdmin      bool
	IsBlocked    bool
	IsSubscribed bool
	CreatedAt    time.Time
}

// PublicUser is the externally visible projection of a User
type PublicUser struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt int64  `json:"created_at"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		UserID:    strconv.FormatInt(u.ID, 10),
		Email:     u.Email,
		FullName:  u.FullName,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt.Unix(),
	}
}

// UserSettings holds per-user preferences
type UserSettings struct {
	UserID               int64  `json:"-"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	Theme                string `json:"theme"`
	Language             string `json:"language"`
	AvatarID             string `json:"avatar_id,omitempty"`
}

func defaultUserSettings(userID int64) *UserSettings {
	return &UserSettings{
		UserID:               userID,
		NotificationsEnabled: true,
		Theme:                "light",
		Language:             "en",
	}
}

// AdminSettings is the single global configuration row, created with
// defaults on first read.
type AdminSettings struct {
	AppName             string `json:"app_name"`
	AppVersion          string `json:"app_version"`
	MaintenanceMode     bool   `json:"maintenance_mode"`
	CustomMessage       string `json:"custom_message"`
	MaxUsers            int    `json:"max_users"`
	SubscriptionPrice   string `json:"subscription_price"`
	EnableRegistration  bool   `json:"enable_registration"`
	EnableFileUpload    bool   `json:"enable_file_upload"`
	AdminEmail          string `json:"admin_email"`
	SystemNotifications bool   `json:"system_notifications"`
	DebugMode           bool   `json:"debug_mode"`
	BackupFrequency     string `json:"backup_frequency"`
}

func defaultAdminSettings() *AdminSettings {
	return &AdminSettings{
		AppName:             "appbase",
		AppVersion:          "1.0.0",
		CustomMessage:       "Welcome to our application!",
		MaxUsers:            1000,
		SubscriptionPrice:   "9.99",
		EnableRegistration:  true,
		EnableFileUpload:    true,
		AdminEmail:          "admin@example.com",
		SystemNotifications: true,
		BackupFrequency:     "daily",
	}
}

// PublicAppSettings is the unauthenticated subset of AdminSettings
type PublicAppSettings struct {
	AppName           string `json:"app_name"`
	CustomMessage     string `json:"custom_message"`
	SubscriptionPrice string `json:"subscription_price"`
	MaintenanceMode   bool   `json:"maintenance_mode"`
}

// RefreshToken is a persisted, revocable token used to mint new access
// tokens. Access JWTs themselves are never stored.
type RefreshToken struct {
	Token     string
	UserID    int64
	ExpiresAt int64
	Revoked   bool
	CreatedAt time.Time
}

// StoredFile is the metadata row for an uploaded blob; the bytes live in the
// FileStore.
type StoredFile struct {
	ID          string `json:"file_id"`
	OwnerID     int64  `json:"-"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   time.Time
}
