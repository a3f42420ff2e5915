package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const aliasDirName = "chats"

// Alias links chats/<name>@<chat_id> to the chat's media directory. An alias
// for the same chat under an older name is replaced.
func Alias(root, chatID, name string) (string, error) {
	if _, err := chatDir(root, chatID); err != nil {
		return "", err
	}
	dir := filepath.Join(root, aliasDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create alias dir: %w", err)
	}

	aliasName := aliasLabel(name) + "@" + chatID
	aliasPath := filepath.Join(dir, aliasName)
	target := filepath.Join("..", dirName, chatID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read alias dir: %w", err)
	}
	for _, e := range entries {
		if e.Name() == aliasName || !strings.HasSuffix(e.Name(), "@"+chatID) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return "", fmt.Errorf("remove old alias: %w", err)
		}
	}

	if cur, err := os.Readlink(aliasPath); err == nil {
		if cur == target {
			return aliasPath, nil
		}
		if err := os.Remove(aliasPath); err != nil {
			return "", fmt.Errorf("replace alias: %w", err)
		}
	}
	if err := os.Symlink(target, aliasPath); err != nil {
		return "", fmt.Errorf("create alias: %w", err)
	}
	return aliasPath, nil
}

func aliasLabel(name string) string {
	if strings.TrimSpace(name) == "" {
		return "chat"
	}
	return SanitizeName(name)
}
