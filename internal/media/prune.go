package media

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// PruneOrphans deletes media files whose id is above the chat's committed
// media counter. Such files were placed by a session that never committed the
// message they belonged to. Names that do not parse are left alone, and no
// error stops the scan.
func PruneOrphans(root string, counters map[string]int64, log zerolog.Logger) []string {
	base := filepath.Join(root, dirName)
	chats, err := os.ReadDir(base)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("dir", base).Msg("cannot scan media directory")
		}
		return nil
	}

	var removed []string
	for _, chat := range chats {
		if !chat.IsDir() {
			continue
		}
		limit := counters[chat.Name()]
		dir := filepath.Join(base, chat.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("cannot scan chat media")
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			id, _, ok := ParseFileName(f.Name())
			if !ok || id <= limit {
				continue
			}
			path := filepath.Join(dir, f.Name())
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("cannot remove orphaned media")
				continue
			}
			log.Info().Str("chat", chat.Name()).Int64("media_id", id).Msg("removed orphaned media")
			removed = append(removed, path)
		}
	}
	return removed
}
