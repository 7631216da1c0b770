// Package ctl はlostfoundctlのサブコマンドを実装する。
package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/hitoshi/lostfound/internal/client"
	"github.com/hitoshi/lostfound/internal/mapstate"
)

// Version はlostfoundctlのバージョン。
const Version = "0.1.0"

// DefaultServer は--serverとLOSTFOUND_SERVERが未指定の場合の接続先。
const DefaultServer = "http://localhost:8080"

const usage = `Campus lost & found from the terminal.

Usage:
  lostfoundctl list [options] [--json]
  lostfoundctl watch [options]
  lostfoundctl report [options] --lat=<lat> --lon=<lon> <description> [--image=<file>]
  lostfoundctl edit [options] <id> [--description=<text>] [--image=<file>]
  lostfoundctl search [options] <query>
  lostfoundctl heatmap [options] --bbox=<bbox>
  lostfoundctl signup [options] <email>
  lostfoundctl signin [options] <email>
  lostfoundctl signout [options]
  lostfoundctl withdraw [options] [--yes]
  lostfoundctl -h | --help
  lostfoundctl --version

Options:
  -h --help               Show this screen.
  --version               Show version.
  --server=<url>          API server URL. Defaults to $LOSTFOUND_SERVER or http://localhost:8080.
  --session=<file>        Session token file. Defaults to $LOSTFOUND_SESSION or the user config dir.
  --json                  Print reports as JSON.
  --lat=<lat>             Latitude of the report.
  --lon=<lon>             Longitude of the report.
  --image=<file>          Photo to attach (JPEG, PNG, GIF or WebP).
  --description=<text>    New description when editing.
  --bbox=<bbox>           Viewport as latMin,lonMin,latMax,lonMax.
  --yes                   Do not ask for confirmation.
  -v --verbose            Log API requests to stderr.`

// ErrUsage はコマンドライン引数が不正な場合に返される。
var ErrUsage = errors.New("invalid arguments")

// IO はコマンドの入出力先。
type IO struct {
	In  *os.File
	Out io.Writer
	Err io.Writer
}

// env は環境変数の参照先。テストで差し替える。
var env = os.Getenv

// Run はargsを解析してサブコマンドを実行する。
func Run(ctx context.Context, args []string, stdio IO) error {
	helpShown := false
	parser := &docopt.Parser{
		HelpHandler: func(err error, text string) {
			if err != nil {
				fmt.Fprintln(stdio.Err, text)
				return
			}
			fmt.Fprintln(stdio.Out, text)
			helpShown = true
		},
	}
	if args == nil {
		args = []string{}
	}
	opts, err := parser.ParseArgs(usage, args, Version)
	if err != nil {
		return ErrUsage
	}
	if helpShown {
		return nil
	}

	cmd, err := newCommand(opts, stdio)
	if err != nil {
		return err
	}

	switch {
	case flag(opts, "list"):
		return cmd.list(ctx, flag(opts, "--json"))
	case flag(opts, "watch"):
		return cmd.watch(ctx)
	case flag(opts, "report"):
		return cmd.report(ctx, opts)
	case flag(opts, "edit"):
		return cmd.edit(ctx, opts)
	case flag(opts, "search"):
		query, _ := opts.String("<query>")
		return cmd.search(ctx, query)
	case flag(opts, "heatmap"):
		bbox, _ := opts.String("--bbox")
		return cmd.heatmap(ctx, bbox)
	case flag(opts, "signup"):
		email, _ := opts.String("<email>")
		return cmd.signIn(ctx, email, true)
	case flag(opts, "signin"):
		email, _ := opts.String("<email>")
		return cmd.signIn(ctx, email, false)
	case flag(opts, "signout"):
		return cmd.signOut(ctx)
	case flag(opts, "withdraw"):
		return cmd.withdraw(ctx, flag(opts, "--yes"))
	}
	return ErrUsage
}

func flag(opts docopt.Opts, key string) bool {
	b, _ := opts.Bool(key)
	return b
}

// optional は未指定の場合に空文字列を返す。
func optional(opts docopt.Opts, key string) string {
	s, err := opts.String(key)
	if err != nil {
		return ""
	}
	return s
}

// command はサブコマンドの共通状態。
type command struct {
	io          IO
	logger      *slog.Logger
	client      *client.Client
	sessionFile string
}

func newCommand(opts docopt.Opts, stdio IO) (*command, error) {
	level := slog.LevelWarn
	if flag(opts, "--verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stdio.Err, &slog.HandlerOptions{Level: level}))

	server := firstNonEmpty(optional(opts, "--server"), env("LOSTFOUND_SERVER"), DefaultServer)
	c, err := client.New(server, logger)
	if err != nil {
		return nil, err
	}

	return &command{
		io:          stdio,
		logger:      logger,
		client:      c,
		sessionFile: firstNonEmpty(optional(opts, "--session"), env("LOSTFOUND_SESSION"), client.DefaultSessionFile()),
	}, nil
}

// manager は保存済みセッションを復元し、サーバーに接続したmapstate.Managerを組み立てる。
func (c *command) manager(ctx context.Context) (*mapstate.Manager, *client.IdentityProvider, error) {
	if err := client.LoadSession(c.client, c.sessionFile); err != nil {
		return nil, nil, err
	}
	identity := client.NewIdentityProvider(c.client)
	if c.client.SessionToken() != "" {
		if err := identity.Refresh(ctx); err != nil {
			return nil, nil, err
		}
	}

	m := mapstate.NewManager(mapstate.Collaborators{
		Identity:  identity,
		Documents: client.NewDocumentStore(c.client, c.logger),
		Blobs:     client.NewBlobStore(c.client),
		Geocoder:  client.NewGeocoder(c.client),
	}, mapstate.DefaultEditPolicy(), c.logger)
	return m, identity, nil
}

// shownError は利用者にメッセージを表示済みのエラー。
type shownError struct {
	err error
}

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// Shown はerrのメッセージがすでに標準エラー出力に表示されている場合にtrueを返す。
func Shown(err error) bool {
	var se *shownError
	return errors.As(err, &se)
}

// fail はユーザー向けのメッセージを表示してerrを返す。
func (c *command) fail(err error) error {
	return c.failf(err, mapstate.UserMessage(err))
}

func (c *command) failf(err error, message string) error {
	fmt.Fprintln(c.io.Err, message)
	return &shownError{err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
