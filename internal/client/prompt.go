package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// PromptPassword はpromptを表示してパスワードを読み取る。
// inが端末の場合はエコーせずに読み取り、それ以外（パイプ等）は1行を読み取る。
func PromptPassword(in *os.File, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := ReadLine(in)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return line, nil
}

// ReadLine はrから1行を読み取り、改行を除いて返す。EOFで終わる最終行も1行として扱う。
func ReadLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// DefaultSessionFile はセッショントークンの保存先のデフォルトパスを返す。
func DefaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".lostfound-session"
	}
	return filepath.Join(dir, "lostfound", "session")
}

// LoadSession はpathに保存されたセッショントークンをcに復元する。ファイルがなければ何もしない。
func LoadSession(c *Client, path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session file: %w", err)
	}
	c.SetSessionToken(strings.TrimSpace(string(b)))
	return nil
}

// SaveSession はcのセッショントークンをpathに保存する。未サインインの場合はファイルを削除する。
func SaveSession(c *Client, path string) error {
	token := c.SessionToken()
	if token == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove session file: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}
