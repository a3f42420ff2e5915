package app

import (
	"context"
	"fmt"

	"github.com/tcai793/datamanager/internal/remote"
	"github.com/tcai793/datamanager/internal/selector"
)

// Folders returns the account's folders merged with locally defined ones.
func (a *App) Folders(ctx context.Context) ([]remote.FolderRule, error) {
	account, err := a.remote.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return selector.MergeFolders(account, a.opts.Folders), nil
}

// SelectChats lists the account's chats and applies the configured allow,
// block and folder criteria.
func (a *App) SelectChats(ctx context.Context) ([]remote.ChatSummary, error) {
	chats, err := a.remote.ListChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	folders, err := a.Folders(ctx)
	if err != nil {
		return nil, err
	}

	crit := a.opts.Criteria
	for _, entry := range selector.Unmatched(chats, crit.Allow) {
		a.log.Warn().Str("entry", entry).Msg("allow list entry matches no chat")
	}
	for _, entry := range selector.Unmatched(chats, crit.Block) {
		a.log.Warn().Str("entry", entry).Msg("block list entry matches no chat")
	}

	selected, err := selector.Select(chats, folders, crit)
	if err != nil {
		return nil, err
	}
	a.log.Info().Int("available", len(chats)).Int("selected", len(selected)).Msg("selected chats")
	return selected, nil
}

type FolderMapResult struct {
	Chats   []remote.ChatSummary
	Folders map[string][]string
}

// FolderMap maps every chat of the account to the folders it belongs to,
// skipping ignored folders.
func (a *App) FolderMap(ctx context.Context) (FolderMapResult, error) {
	chats, err := a.remote.ListChats(ctx)
	if err != nil {
		return FolderMapResult{}, fmt.Errorf("list chats: %w", err)
	}
	folders, err := a.Folders(ctx)
	if err != nil {
		return FolderMapResult{}, err
	}
	return FolderMapResult{
		Chats:   chats,
		Folders: selector.FolderMap(chats, folders, a.opts.IgnoredFolders),
	}, nil
}
