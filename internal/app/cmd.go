package app

import (
	"errors"
	"fmt"
	"strings"
)

// Command はlostfoundサーバーのサブコマンド。
type Command string

const (
	// CommandServe はレポートAPIとライブフィードを提供する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの掃除をcronで実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はPostgreSQLのスキーマを最新にする。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のserveの/healthを確認する。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ErrUnknownCommand は未定義のサブコマンドが指定された場合に返される。
var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand は先頭の引数からサブコマンドを決める。引数がなければserve。
// 2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}
	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q (available: %s)", ErrUnknownCommand, args[0], commandList())
}

func commandList() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
