package main

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// tables come from migrations; just verify connectivity
	return p.db.Ping()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *PostgresDB) CreateUser(email, password, fullName string, isAdmin bool) (*User, error) {
	var id int64
	var created time.Time
	err := p.db.QueryRow(`INSERT INTO users(email,password,full_name,is_admin) VALUES($1,$2,$3,$4) RETURNING id, created_at`,
		email, password, fullName, isAdmin).Scan(&id, &created)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if _, err := p.db.Exec(`INSERT INTO user_settings(user_id) VALUES($1)`, id); err != nil {
		return nil, err
	}
	return &User{ID: id, Email: email, Password: password, FullName: fullName, IsAdmin: isAdmin, CreatedAt: created}, nil
}

const pgUserCols = `id,email,password,full_name,is_admin,is_blocked,is_subscribed,created_at`

func (p *PostgresDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.IsAdmin, &u.IsBlocked, &u.IsSubscribed, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresDB) GetUserByEmail(email string) (*User, error) {
	return p.scanUser(p.db.QueryRow(`SELECT `+pgUserCols+` FROM users WHERE email = $1`, email))
}

func (p *PostgresDB) GetUserByID(id int64) (*User, error) {
	return p.scanUser(p.db.QueryRow(`SELECT `+pgUserCols+` FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) ListUsers(limit int, before int64) ([]*User, error) {
	q := `SELECT ` + pgUserCols + ` FROM users`
	args := []interface{}{}
	if before > 0 {
		q += ` WHERE created_at < to_timestamp($1)`
		args = append(args, before)
		q += ` ORDER BY created_at DESC, id DESC LIMIT $2`
	} else {
		q += ` ORDER BY created_at DESC, id DESC LIMIT $1`
	}
	args = append(args, limit)

	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.IsAdmin, &u.IsBlocked, &u.IsSubscribed, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (p *PostgresDB) UpdatePassword(userID int64, hashed string) error {
	_, err := p.db.Exec(`UPDATE users SET password = $1 WHERE id = $2`, hashed, userID)
	return err
}

func (p *PostgresDB) ActivateSubscription(userID int64) error {
	_, err := p.db.Exec(`UPDATE users SET is_subscribed = true WHERE id = $1`, userID)
	return err
}

func (p *PostgresDB) DeleteUser(id int64) error {
	if _, err := p.db.Exec(`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1`, id); err != nil {
		return err
	}
	_, err := p.db.Exec(`DELETE FROM users WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) GetUserSettings(userID int64) (*UserSettings, error) {
	row := p.db.QueryRow(`SELECT user_id,notifications_enabled,theme,language,avatar_id FROM user_settings WHERE user_id = $1`, userID)
	var us UserSettings
	if err := row.Scan(&us.UserID, &us.NotificationsEnabled, &us.Theme, &us.Language, &us.AvatarID); err != nil {
		if err == sql.ErrNoRows {
			if _, err := p.db.Exec(`INSERT INTO user_settings(user_id) VALUES($1) ON CONFLICT DO NOTHING`, userID); err != nil {
				return nil, err
			}
			return defaultUserSettings(userID), nil
		}
		return nil, err
	}
	return &us, nil
}

func (p *PostgresDB) UpdateUserSettings(us *UserSettings) error {
	_, err := p.db.Exec(`INSERT INTO user_settings(user_id,notifications_enabled,theme,language,avatar_id) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT(user_id) DO UPDATE SET notifications_enabled=excluded.notifications_enabled, theme=excluded.theme, language=excluded.language, avatar_id=excluded.avatar_id`,
		us.UserID, us.NotificationsEnabled, us.Theme, us.Language, us.AvatarID)
	return err
}

func (p *PostgresDB) GetAdminSettings() (*AdminSettings, error) {
	row := p.db.QueryRow(`SELECT app_name,app_version,maintenance_mode,custom_message,max_users,subscription_price,enable_registration,enable_file_upload,admin_email,system_notifications,debug_mode,backup_frequency FROM admin_settings WHERE id = 1`)
	var as AdminSettings
	err := row.Scan(&as.AppName, &as.AppVersion, &as.MaintenanceMode, &as.CustomMessage, &as.MaxUsers, &as.SubscriptionPrice,
		&as.EnableRegistration, &as.EnableFileUpload, &as.AdminEmail, &as.SystemNotifications, &as.DebugMode, &as.BackupFrequency)
	if err == sql.ErrNoRows {
		def := defaultAdminSettings()
		if err := p.UpdateAdminSettings(def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err != nil {
		return nil, err
	}
	return &as, nil
}

func (p *PostgresDB) UpdateAdminSettings(as *AdminSettings) error {
	_, err := p.db.Exec(`INSERT INTO admin_settings(id,app_name,app_version,maintenance_mode,custom_message,max_users,subscription_price,enable_registration,enable_file_upload,admin_email,system_notifications,debug_mode,backup_frequency)
		VALUES(1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT(id) DO UPDATE SET app_name=excluded.app_name, app_version=excluded.app_version, maintenance_mode=excluded.maintenance_mode,
			custom_message=excluded.custom_message, max_users=excluded.max_users, subscription_price=excluded.subscription_price,
			enable_registration=excluded.enable_registration, enable_file_upload=excluded.enable_file_upload, admin_email=excluded.admin_email,
			system_notifications=excluded.system_notifications, debug_mode=excluded.debug_mode, backup_frequency=excluded.backup_frequency`,
		as.AppName, as.AppVersion, as.MaintenanceMode, as.CustomMessage, as.MaxUsers, as.SubscriptionPrice,
		as.EnableRegistration, as.EnableFileUpload, as.AdminEmail, as.SystemNotifications, as.DebugMode, as.BackupFrequency)
	return err
}

func (p *PostgresDB) CreateRefreshToken(token string, userID int64, expiresAt int64) error {
	_, err := p.db.Exec(`INSERT INTO refresh_tokens(token,user_id,expires_at) VALUES($1,$2,$3)`, token, userID, expiresAt)
	return err
}

func (p *PostgresDB) GetRefreshToken(token string) (*RefreshToken, error) {
	row := p.db.QueryRow(`SELECT token,user_id,expires_at,revoked,created_at FROM refresh_tokens WHERE token = $1`, token)
	var t RefreshToken
	if err := row.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (p *PostgresDB) RevokeRefreshToken(token string) error {
	res, err := p.db.Exec(`UPDATE refresh_tokens SET revoked = true WHERE token = $1`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) RevokeAllRefreshTokensForUser(userID int64) error {
	_, err := p.db.Exec(`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1`, userID)
	return err
}

func (p *PostgresDB) CreateFile(f *StoredFile) error {
	_, err := p.db.Exec(`INSERT INTO files(id,owner_id,name,content_type,size) VALUES($1,$2,$3,$4,$5)`,
		f.ID, f.OwnerID, f.Name, f.ContentType, f.Size)
	return err
}

func (p *PostgresDB) GetFile(id string) (*StoredFile, error) {
	row := p.db.QueryRow(`SELECT id,owner_id,name,content_type,size,created_at FROM files WHERE id = $1`, id)
	var f StoredFile
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.ContentType, &f.Size, &f.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (p *PostgresDB) DeleteFile(id string) error {
	_, err := p.db.Exec(`DELETE FROM files WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
