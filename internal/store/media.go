package store

import (
	"database/sql"
	"fmt"
)

type MediaItem struct {
	ChatID string
	ID     int64
	File   string
	NextID int64
}

// MessageMedia follows the next_id chain starting at first and returns the
// items in download order.
func (d *DB) MessageMedia(chatID string, first int64) ([]MediaItem, error) {
	var out []MediaItem
	seen := map[int64]bool{}
	for id := first; id != 0; {
		if seen[id] {
			return nil, fmt.Errorf("media chain for chat %s loops at %d", chatID, id)
		}
		seen[id] = true

		var it MediaItem
		var next sql.NullInt64
		err := d.sql.QueryRow(`SELECT chat_id, media_id, file, next_id FROM Media WHERE chat_id = ? AND media_id = ?`, chatID, id).
			Scan(&it.ChatID, &it.ID, &it.File, &next)
		if err != nil {
			return nil, fmt.Errorf("load media %s/%d: %w", chatID, id, err)
		}
		it.NextID = next.Int64
		out = append(out, it)
		id = it.NextID
	}
	return out, nil
}

// MediaIDs returns every committed media id for a chat in ascending order.
func (d *DB) MediaIDs(chatID string) ([]int64, error) {
	rows, err := d.sql.Query(`SELECT media_id FROM Media WHERE chat_id = ? ORDER BY media_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
