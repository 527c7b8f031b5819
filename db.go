package main

import (
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrDuplicateEmail = errors.New("user already exists with this email")

// DB interface for database operations
type DB interface {
	Init() error
	// User operations
	CreateUser(email, password, fullName string, isAdmin bool) (*User, error)
	GetUserByEmail(email string) (*User, error)
	GetUserByID(id int64) (*User, error)
	ListUsers(limit int, before int64) ([]*User, error)
	UpdatePassword(userID int64, hashed string) error
	ActivateSubscription(userID int64) error
	DeleteUser(id int64) error
	// Per-user settings
	GetUserSettings(userID int64) (*UserSettings, error)
	UpdateUserSettings(s *UserSettings) error
	// Global settings (singleton row, created with defaults on first read)
	GetAdminSettings() (*AdminSettings, error)
	UpdateAdminSettings(s *AdminSettings) error
	// Refresh token operations
	CreateRefreshToken(token string, userID int64, expiresAt int64) error
	GetRefreshToken(token string) (*RefreshToken, error)
	RevokeRefreshToken(token string) error
	RevokeAllRefreshTokensForUser(userID int64) error
	// File metadata
	CreateFile(f *StoredFile) error
	GetFile(id string) (*StoredFile, error)
	DeleteFile(id string) error
}

// Memory DB, used in tests and local experiments
type MemDB struct {
	mu       sync.Mutex
	users    map[int64]*User
	byEmail  map[string]int64
	settings map[int64]*UserSettings
	admin    *AdminSettings
	tokens   map[string]*RefreshToken
	files    map[string]*StoredFile
	seq      int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:    map[int64]*User{},
		byEmail:  map[string]int64{},
		settings: map[int64]*UserSettings{},
		tokens:   map[string]*RefreshToken{},
		files:    map[string]*StoredFile{},
		seq:      1,
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(email, password, fullName string, isAdmin bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}
	u := &User{ID: m.seq, Email: email, Password: password, FullName: fullName, IsAdmin: isAdmin, CreatedAt: time.Now()}
	m.seq++
	m.users[u.ID] = u
	m.byEmail[email] = u.ID
	m.settings[u.ID] = defaultUserSettings(u.ID)
	return u, nil
}

func (m *MemDB) GetUserByEmail(email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byEmail[email]; ok {
		cp := *m.users[id]
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) GetUserByID(id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) ListUsers(limit int, before int64) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []*User
	for _, u := range m.users {
		if before > 0 && u.CreatedAt.Unix() >= before {
			continue
		}
		cp := *u
		users = append(users, &cp)
	}
	// newest first
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID > users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (m *MemDB) UpdatePassword(userID int64, hashed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.Password = hashed
	return nil
}

func (m *MemDB) ActivateSubscription(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.IsSubscribed = true
	return nil
}

func (m *MemDB) DeleteUser(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	delete(m.byEmail, u.Email)
	delete(m.users, id)
	delete(m.settings, id)
	for _, t := range m.tokens {
		if t.UserID == id {
			t.Revoked = true
		}
	}
	return nil
}

func (m *MemDB) GetUserSettings(userID int64) (*UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		s = defaultUserSettings(userID)
		m.settings[userID] = s
	}
	cp := *s
	return &cp, nil
}

func (m *MemDB) UpdateUserSettings(s *UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings[s.UserID] = &cp
	return nil
}

func (m *MemDB) GetAdminSettings() (*AdminSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.admin == nil {
		m.admin = defaultAdminSettings()
	}
	cp := *m.admin
	return &cp, nil
}

func (m *MemDB) UpdateAdminSettings(s *AdminSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.admin = &cp
	return nil
}

func (m *MemDB) CreateRefreshToken(token string, userID int64, expiresAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = &RefreshToken{Token: token, UserID: userID, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	return nil
}

func (m *MemDB) GetRefreshToken(token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) RevokeRefreshToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return sql.ErrNoRows
	}
	t.Revoked = true
	return nil
}

func (m *MemDB) RevokeAllRefreshTokensForUser(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *MemDB) CreateFile(f *StoredFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.files[f.ID] = &cp
	return nil
}

func (m *MemDB) GetFile(id string) (*StoredFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) DeleteFile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			is_admin INTEGER NOT NULL DEFAULT 0,
			is_blocked INTEGER NOT NULL DEFAULT 0,
			is_subscribed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			notifications_enabled INTEGER NOT NULL DEFAULT 1,
			theme TEXT NOT NULL DEFAULT 'light',
			language TEXT NOT NULL DEFAULT 'en',
			avatar_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS admin_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			app_name TEXT NOT NULL,
			app_version TEXT NOT NULL,
			maintenance_mode INTEGER NOT NULL,
			custom_message TEXT NOT NULL,
			max_users INTEGER NOT NULL,
			subscription_price TEXT NOT NULL,
			enable_registration INTEGER NOT NULL,
			enable_file_upload INTEGER NOT NULL,
			admin_email TEXT NOT NULL,
			system_notifications INTEGER NOT NULL,
			debug_mode INTEGER NOT NULL,
			backup_frequency TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateUser(email, password, fullName string, isAdmin bool) (*User, error) {
	now := time.Now()
	res, err := s.db.Exec(`INSERT INTO users(email,password,full_name,is_admin,created_at) VALUES(?,?,?,?,?)`,
		email, password, fullName, boolToInt(isAdmin), now.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`INSERT INTO user_settings(user_id) VALUES(?)`, id); err != nil {
		return nil, err
	}
	return &User{ID: id, Email: email, Password: password, FullName: fullName, IsAdmin: isAdmin, CreatedAt: now}, nil
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var isAdmin, isBlocked, isSubscribed int
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &isAdmin, &isBlocked, &isSubscribed, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	u.IsBlocked = isBlocked != 0
	u.IsSubscribed = isSubscribed != 0
	u.CreatedAt = time.Unix(created, 0)
	return &u, nil
}

const sqliteUserCols = `id,email,password,full_name,is_admin,is_blocked,is_subscribed,created_at`

func (s *SQLiteDB) GetUserByEmail(email string) (*User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+sqliteUserCols+` FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) GetUserByID(id int64) (*User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+sqliteUserCols+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) ListUsers(limit int, before int64) ([]*User, error) {
	q := `SELECT ` + sqliteUserCols + ` FROM users`
	args := []interface{}{}
	if before > 0 {
		q += ` WHERE created_at < ?`
		args = append(args, before)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var isAdmin, isBlocked, isSubscribed int
		var created int64
		if err := rows.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &isAdmin, &isBlocked, &isSubscribed, &created); err != nil {
			return nil, err
		}
		u.IsAdmin = isAdmin != 0
		u.IsBlocked = isBlocked != 0
		u.IsSubscribed = isSubscribed != 0
		u.CreatedAt = time.Unix(created, 0)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) UpdatePassword(userID int64, hashed string) error {
	_, err := s.db.Exec(`UPDATE users SET password = ? WHERE id = ?`, hashed, userID)
	return err
}

func (s *SQLiteDB) ActivateSubscription(userID int64) error {
	_, err := s.db.Exec(`UPDATE users SET is_subscribed = 1 WHERE id = ?`, userID)
	return err
}

func (s *SQLiteDB) DeleteUser(id int64) error {
	if _, err := s.db.Exec(`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?`, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM user_settings WHERE user_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) GetUserSettings(userID int64) (*UserSettings, error) {
	row := s.db.QueryRow(`SELECT user_id,notifications_enabled,theme,language,avatar_id FROM user_settings WHERE user_id = ?`, userID)
	var us UserSettings
	var notif int
	if err := row.Scan(&us.UserID, &notif, &us.Theme, &us.Language, &us.AvatarID); err != nil {
		if err == sql.ErrNoRows {
			if _, err := s.db.Exec(`INSERT INTO user_settings(user_id) VALUES(?)`, userID); err != nil {
				return nil, err
			}
			return defaultUserSettings(userID), nil
		}
		return nil, err
	}
	us.NotificationsEnabled = notif != 0
	return &us, nil
}

func (s *SQLiteDB) UpdateUserSettings(us *UserSettings) error {
	_, err := s.db.Exec(`INSERT INTO user_settings(user_id,notifications_enabled,theme,language,avatar_id) VALUES(?,?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET notifications_enabled=excluded.notifications_enabled, theme=excluded.theme, language=excluded.language, avatar_id=excluded.avatar_id`,
		us.UserID, boolToInt(us.NotificationsEnabled), us.Theme, us.Language, us.AvatarID)
	return err
}

func (s *SQLiteDB) GetAdminSettings() (*AdminSettings, error) {
	row := s.db.QueryRow(`SELECT app_name,app_version,maintenance_mode,custom_message,max_users,subscription_price,enable_registration,enable_file_upload,admin_email,system_notifications,debug_mode,backup_frequency FROM admin_settings WHERE id = 1`)
	var as AdminSettings
	var maint, reg, upload, notif, debug int
	err := row.Scan(&as.AppName, &as.AppVersion, &maint, &as.CustomMessage, &as.MaxUsers, &as.SubscriptionPrice,
		&reg, &upload, &as.AdminEmail, &notif, &debug, &as.BackupFrequency)
	if err == sql.ErrNoRows {
		def := defaultAdminSettings()
		if err := s.UpdateAdminSettings(def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err != nil {
		return nil, err
	}
	as.MaintenanceMode = maint != 0
	as.EnableRegistration = reg != 0
	as.EnableFileUpload = upload != 0
	as.SystemNotifications = notif != 0
	as.DebugMode = debug != 0
	return &as, nil
}

func (s *SQLiteDB) UpdateAdminSettings(as *AdminSettings) error {
	_, err := s.db.Exec(`INSERT INTO admin_settings(id,app_name,app_version,maintenance_mode,custom_message,max_users,subscription_price,enable_registration,enable_file_upload,admin_email,system_notifications,debug_mode,backup_frequency)
		VALUES(1,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET app_name=excluded.app_name, app_version=excluded.app_version, maintenance_mode=excluded.maintenance_mode,
			custom_message=excluded.custom_message, max_users=excluded.max_users, subscription_price=excluded.subscription_price,
			enable_registration=excluded.enable_registration, enable_file_upload=excluded.enable_file_upload, admin_email=excluded.admin_email,
			system_notifications=excluded.system_notifications, debug_mode=excluded.debug_mode, backup_frequency=excluded.backup_frequency`,
		as.AppName, as.AppVersion, boolToInt(as.MaintenanceMode), as.CustomMessage, as.MaxUsers, as.SubscriptionPrice,
		boolToInt(as.EnableRegistration), boolToInt(as.EnableFileUpload), as.AdminEmail,
		boolToInt(as.SystemNotifications), boolToInt(as.DebugMode), as.BackupFrequency)
	return err
}

func (s *SQLiteDB) CreateRefreshToken(token string, userID int64, expiresAt int64) error {
	_, err := s.db.Exec(`INSERT INTO refresh_tokens(token,user_id,expires_at,created_at) VALUES(?,?,?,?)`,
		token, userID, expiresAt, time.Now().Unix())
	return err
}

func (s *SQLiteDB) GetRefreshToken(token string) (*RefreshToken, error) {
	row := s.db.QueryRow(`SELECT token,user_id,expires_at,revoked FROM refresh_tokens WHERE token = ?`, token)
	var t RefreshToken
	var revoked int
	if err := row.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &revoked); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.Revoked = revoked != 0
	return &t, nil
}

func (s *SQLiteDB) RevokeRefreshToken(token string) error {
	res, err := s.db.Exec(`UPDATE refresh_tokens SET revoked = 1 WHERE token = ?`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) RevokeAllRefreshTokensForUser(userID int64) error {
	_, err := s.db.Exec(`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?`, userID)
	return err
}

func (s *SQLiteDB) CreateFile(f *StoredFile) error {
	_, err := s.db.Exec(`INSERT INTO files(id,owner_id,name,content_type,size,created_at) VALUES(?,?,?,?,?,?)`,
		f.ID, f.OwnerID, f.Name, f.ContentType, f.Size, f.CreatedAt.Unix())
	return err
}

func (s *SQLiteDB) GetFile(id string) (*StoredFile, error) {
	row := s.db.QueryRow(`SELECT id,owner_id,name,content_type,size,created_at FROM files WHERE id = ?`, id)
	var f StoredFile
	var created int64
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.ContentType, &f.Size, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.CreatedAt = time.Unix(created, 0)
	return &f, nil
}

func (s *SQLiteDB) DeleteFile(id string) error {
	_, err := s.db.Exec(`DELETE FROM files WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
