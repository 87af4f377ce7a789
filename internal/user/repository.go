package user

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// KnownUser is a directory row: an identity and when it was first and last
// authenticated.
type KnownUser struct {
	Identity
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Repository is the known-user directory. It never stores messages.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert records u, refreshing its profile fields and last_seen.
func (r *Repository) Upsert(ctx context.Context, u Identity) error {
	query := `INSERT INTO users (user_id, username, display_name, avatar_url)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE SET
            username = EXCLUDED.username,
            display_name = EXCLUDED.display_name,
            avatar_url = EXCLUDED.avatar_url,
            last_seen = CURRENT_TIMESTAMP`

	_, err := r.db.ExecContext(ctx, query, u.UserID, u.Username, u.DisplayName, u.AvatarURL)
	return err
}

func (r *Repository) GetUser(ctx context.Context, userID string) (*KnownUser, error) {
	u := &KnownUser{}
	query := `SELECT user_id, username, display_name, avatar_url, first_seen, last_seen
        FROM users WHERE user_id = $1`

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&u.UserID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.FirstSeen, &u.LastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]Identity, error) {
	// We limit to 10 to keep it fast
	q := `SELECT user_id, username, display_name, avatar_url FROM users
        WHERE username ILIKE $1 OR display_name ILIKE $1
        ORDER BY last_seen DESC LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []Identity
	for rows.Next() {
		var u Identity
		if err := rows.Scan(&u.UserID, &u.Username, &u.DisplayName, &u.AvatarURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
