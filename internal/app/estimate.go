package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tcai793/datamanager/internal/fsutil"
	"github.com/tcai793/datamanager/internal/store"
	"github.com/tcai793/datamanager/internal/workcopy"
)

type ChatEstimate struct {
	ChatID  string `json:"chat_id"`
	Name    string `json:"name"`
	Cursor  int64  `json:"cursor"`
	Pending int64  `json:"pending"`
	Error   string `json:"error,omitempty"`
}

type EstimateResult struct {
	Chats  []ChatEstimate `json:"chats"`
	Total  int64          `json:"total"`
	Failed int            `json:"failed"`
}

// Estimate counts, per selected chat, the messages a sync would ingest. It
// reads cursors from the published archive and never writes.
func (a *App) Estimate(ctx context.Context) (EstimateResult, error) {
	var res EstimateResult

	cursors, err := a.publishedCursors()
	if err != nil {
		return res, err
	}
	chats, err := a.SelectChats(ctx)
	if err != nil {
		return res, err
	}

	for i, chat := range chats {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a.progress.Set(0, fmt.Sprintf("Chat %d/%d: %s", i+1, len(chats), chat.Name))

		est := ChatEstimate{ChatID: chat.ID, Name: chat.Name, Cursor: cursors[chat.ID]}
		n, err := a.countPending(ctx, chat.ID, est.Cursor)
		if err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			a.log.Warn().Err(err).Str("chat", chat.ID).Msg("estimate failed; continuing")
			est.Error = err.Error()
			res.Failed++
		} else {
			est.Pending = n
			res.Total += n
		}
		res.Chats = append(res.Chats, est)
	}
	return res, nil
}

func (a *App) publishedCursors() (map[string]int64, error) {
	path := filepath.Join(a.opts.ArchiveRoot, workcopy.DBName)
	if !fsutil.Exists(path) {
		return map[string]int64{}, nil
	}
	db, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	cursors, err := db.Cursors()
	if err != nil {
		return nil, fmt.Errorf("read cursors: %w", err)
	}
	return cursors, nil
}
