package store

import (
	"database/sql"
	"fmt"
)

type PersonalInfo struct {
	UserID   string
	First    string
	Last     string
	Phone    string
	Username string
}

func (d *DB) PersonalInfo() (PersonalInfo, error) {
	var p PersonalInfo
	var first, last, phone, username sql.NullString
	err := d.sql.QueryRow(`SELECT user_id, first, last, phone, username FROM PersonalInfo LIMIT 1`).
		Scan(&p.UserID, &first, &last, &phone, &username)
	if err != nil {
		return PersonalInfo{}, err
	}
	p.First, p.Last, p.Phone, p.Username = first.String, last.String, phone.String, username.String
	return p, nil
}

// SyncPersonalInfo stores the archive owner. The first call inserts the row;
// later calls update it in place, but only when something changed, so an
// unchanged owner never touches the file. A different user id is
// ErrIdentityChanged.
func (d *DB) SyncPersonalInfo(p PersonalInfo) (bool, error) {
	if p.UserID == "" {
		return false, fmt.Errorf("personal info: user id is required")
	}
	cur, err := d.PersonalInfo()
	if IsNotFound(err) {
		_, err := d.sql.Exec(`INSERT INTO PersonalInfo(user_id, first, last, phone, username) VALUES(?, ?, ?, ?, ?)`,
			p.UserID, nullIfEmpty(p.First), nullIfEmpty(p.Last), nullIfEmpty(p.Phone), nullIfEmpty(p.Username))
		if err != nil {
			return false, wrapWriteErr(err, "insert personal info")
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load personal info: %w", err)
	}
	if cur.UserID != p.UserID {
		return false, fmt.Errorf("archive belongs to %s, logged in as %s: %w", cur.UserID, p.UserID, ErrIdentityChanged)
	}
	if cur == p {
		return false, nil
	}
	_, err = d.sql.Exec(`UPDATE PersonalInfo SET first = ?, last = ?, phone = ?, username = ? WHERE user_id = ?`,
		nullIfEmpty(p.First), nullIfEmpty(p.Last), nullIfEmpty(p.Phone), nullIfEmpty(p.Username), p.UserID)
	if err != nil {
		return false, fmt.Errorf("update personal info: %w", err)
	}
	return true, nil
}
