package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adapters covered by the shared suite; postgres needs docker and lives in
// integration_test.go
func testAdapters(t *testing.T) map[string]DB {
	t.Helper()

	sqlite, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Init())
	t.Cleanup(func() { _ = sqlite.close() })

	return map[string]DB{
		"memory": NewMemoryDB(),
		"sqlite": sqlite,
	}
}

func TestDBUserLifecycle(t *testing.T) {
	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			u, err := db.CreateUser("alice@example.com", "hash", "Alice", false)
			require.NoError(t, err)
			require.NotZero(t, u.ID)
			assert.False(t, u.CreatedAt.IsZero())

			_, err = db.CreateUser("alice@example.com", "hash2", "", false)
			assert.ErrorIs(t, err, ErrDuplicateEmail)

			byEmail, err := db.GetUserByEmail("alice@example.com")
			require.NoError(t, err)
			require.NotNil(t, byEmail)
			assert.Equal(t, u.ID, byEmail.ID)

			byID, err := db.GetUserByID(u.ID)
			require.NoError(t, err)
			require.NotNil(t, byID)
			assert.Equal(t, "Alice", byID.FullName)

			missing, err := db.GetUserByEmail("nobody@example.com")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, db.UpdatePassword(u.ID, "newhash"))
			updated, err := db.GetUserByID(u.ID)
			require.NoError(t, err)
			assert.Equal(t, "newhash", updated.Password)

			require.NoError(t, db.ActivateSubscription(u.ID))
			subscribed, err := db.GetUserByID(u.ID)
			require.NoError(t, err)
			assert.True(t, subscribed.IsSubscribed)

			require.NoError(t, db.DeleteUser(u.ID))
			gone, err := db.GetUserByID(u.ID)
			require.NoError(t, err)
			assert.Nil(t, gone)
		})
	}
}

func TestDBUserSettings(t *testing.T) {
	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			u, err := db.CreateUser("settings@example.com", "hash", "", false)
			require.NoError(t, err)

			s, err := db.GetUserSettings(u.ID)
			require.NoError(t, err)
			assert.Equal(t, "light", s.Theme)
			assert.True(t, s.NotificationsEnabled)

			s.Theme = "dark"
			s.AvatarID = "avatar-1"
			require.NoError(t, db.UpdateUserSettings(s))

			got, err := db.GetUserSettings(u.ID)
			require.NoError(t, err)
			assert.Equal(t, "dark", got.Theme)
			assert.Equal(t, "avatar-1", got.AvatarID)
		})
	}
}

func TestDBAdminSettingsSingleton(t *testing.T) {
	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			s, err := db.GetAdminSettings()
			require.NoError(t, err)
			assert.Equal(t, "appbase", s.AppName)

			s.MaintenanceMode = true
			s.MaxUsers = 42
			require.NoError(t, db.UpdateAdminSettings(s))

			got, err := db.GetAdminSettings()
			require.NoError(t, err)
			assert.True(t, got.MaintenanceMode)
			assert.Equal(t, 42, got.MaxUsers)
		})
	}
}

func TestDBRefreshTokens(t *testing.T) {
	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			u, err := db.CreateUser("tokens@example.com", "hash", "", false)
			require.NoError(t, err)

			expires := time.Now().Add(24 * time.Hour).Unix()
			require.NoError(t, db.CreateRefreshToken("tok-1", u.ID, expires))
			require.NoError(t, db.CreateRefreshToken("tok-2", u.ID, expires))

			rt, err := db.GetRefreshToken("tok-1")
			require.NoError(t, err)
			require.NotNil(t, rt)
			assert.Equal(t, u.ID, rt.UserID)
			assert.False(t, rt.Revoked)

			missing, err := db.GetRefreshToken("nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			// revoking an unknown token must say so
			assert.Error(t, db.RevokeRefreshToken("nope"))

			require.NoError(t, db.RevokeRefreshToken("tok-1"))
			rt, err = db.GetRefreshToken("tok-1")
			require.NoError(t, err)
			assert.True(t, rt.Revoked)

			require.NoError(t, db.RevokeAllRefreshTokensForUser(u.ID))
			rt, err = db.GetRefreshToken("tok-2")
			require.NoError(t, err)
			assert.True(t, rt.Revoked)
		})
	}
}

func TestDBFiles(t *testing.T) {
	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			u, err := db.CreateUser("files@example.com", "hash", "", false)
			require.NoError(t, err)

			f := &StoredFile{
				ID:          "file-1",
				OwnerID:     u.ID,
				Name:        "notes.txt",
				ContentType: "text/plain",
				Size:        14,
				CreatedAt:   time.Now(),
			}
			require.NoError(t, db.CreateFile(f))

			got, err := db.GetFile("file-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, u.ID, got.OwnerID)
			assert.Equal(t, "notes.txt", got.Name)
			assert.Equal(t, int64(14), got.Size)

			missing, err := db.GetFile("nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, db.DeleteFile("file-1"))
			gone, err := db.GetFile("file-1")
			require.NoError(t, err)
			assert.Nil(t, gone)
		})
	}
}

func TestListUsersPagination(t *testing.T) {
	db := NewMemoryDB()

	// spread creation times so the cursor has something to cut on
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		u, err := db.CreateUser(string(rune('a'+i))+"@example.com", "hash", "", false)
		require.NoError(t, err)
		db.users[u.ID].CreatedAt = base.Add(time.Duration(i) * time.Minute)
	}

	page, err := db.ListUsers(2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	// newest first
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	next, err := db.ListUsers(10, page[1].CreatedAt.Unix())
	require.NoError(t, err)
	require.Len(t, next, 3)
	for _, u := range next {
		assert.True(t, u.CreatedAt.Before(page[1].CreatedAt))
	}
}
