package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/hitoshi/lostfound/internal/client"
	"github.com/hitoshi/lostfound/internal/mapstate"
	"github.com/hitoshi/lostfound/internal/model"
)

// maxImageBytes はCLIから添付できる画像の上限。サーバー側でも検証される。
const maxImageBytes = 10 << 20

// list は現在の全レポートを表示順に出力する。
func (c *command) list(ctx context.Context, asJSON bool) error {
	m, _, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	reports, err := client.NewDocumentStore(c.client, c.logger).List(ctx)
	if err != nil {
		return c.fail(&mapstate.TransportError{Op: "list", Err: err})
	}
	m.Records.ReplaceAll(reports)

	if asJSON {
		enc := json.NewEncoder(c.io.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(m.Records.All())
	}
	printReports(c.io.Out, m.Records.All(), m.Drafts.CanEdit)
	return nil
}

// watch はライブフィードを購読し、スナップショットが届くたびに一覧を出力する。
func (c *command) watch(ctx context.Context) error {
	m, _, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	m.Feed.OnSnapshot = func(count int) {
		fmt.Fprintf(c.io.Out, "--- %d reports ---\n", count)
		printReports(c.io.Out, m.Records.All(), m.Drafts.CanEdit)
	}
	m.Feed.OnError = func(err error) {
		fmt.Fprintln(c.io.Err, mapstate.UserMessage(err))
	}
	if err := m.Start(ctx); err != nil {
		return c.fail(err)
	}

	<-ctx.Done()
	return nil
}

// report は新しいレポートを作成する。
func (c *command) report(ctx context.Context, opts docopt.Opts) error {
	lat, err := opts.Float64("--lat")
	if err != nil {
		return c.fail(&mapstate.ValidationError{Field: "position", Reason: "latitude must be a number"})
	}
	lon, err := opts.Float64("--lon")
	if err != nil {
		return c.fail(&mapstate.ValidationError{Field: "position", Reason: "longitude must be a number"})
	}
	description, _ := opts.String("<description>")

	m, _, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Drafts.BeginCreate(model.GeoPoint{Latitude: lat, Longitude: lon}); err != nil {
		return c.fail(err)
	}
	fields := mapstate.DraftFields{Description: &description}
	if path := optional(opts, "--image"); path != "" {
		img, err := readImage(path)
		if err != nil {
			return err
		}
		fields.PendingImage = img
	}
	if err := m.Drafts.Update(fields); err != nil {
		return c.fail(err)
	}

	result, err := m.Commits.Commit(ctx)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.io.Out, "Report submitted: %s\n", result.ReportID)
	return nil
}

// edit は既存のレポートの説明文または画像を更新する。位置は変更できない。
func (c *command) edit(ctx context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	description := optional(opts, "--description")
	imagePath := optional(opts, "--image")
	if description == "" && imagePath == "" {
		fmt.Fprintln(c.io.Err, "Nothing to change: pass --description and/or --image.")
		return ErrUsage
	}

	m, _, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	target, err := client.NewDocumentStore(c.client, c.logger).Get(ctx, id)
	if client.IsStatus(err, http.StatusNotFound) {
		return c.failf(err, "Report not found: "+id)
	}
	if err != nil {
		return c.fail(&mapstate.TransportError{Op: "get", Err: err})
	}

	if err := m.Drafts.BeginEdit(*target); err != nil {
		return c.fail(err)
	}
	var fields mapstate.DraftFields
	if description != "" {
		fields.Description = &description
	}
	if imagePath != "" {
		img, err := readImage(imagePath)
		if err != nil {
			return err
		}
		fields.PendingImage = img
	}
	if err := m.Drafts.Update(fields); err != nil {
		return c.fail(err)
	}

	if _, err := m.Commits.Commit(ctx); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.io.Out, "Report updated: %s\n", id)
	return nil
}

// search は地名を検索して座標を出力する。
func (c *command) search(ctx context.Context, query string) error {
	resolver := mapstate.NewGeocodeResolver(client.NewGeocoder(c.client), c.logger)
	if _, err := resolver.Resolve(ctx, query); err != nil {
		return c.fail(err)
	}
	place := resolver.Marker()
	fmt.Fprintf(c.io.Out, "%s\t%s,%s\n", place.Name,
		strconv.FormatFloat(place.Location.Latitude, 'f', 6, 64),
		strconv.FormatFloat(place.Location.Longitude, 'f', 6, 64))
	return nil
}

// heatmap は表示範囲内のレポート密度を出力する。
func (c *command) heatmap(ctx context.Context, bbox string) error {
	vp, err := parseBBox(bbox)
	if err != nil {
		fmt.Fprintln(c.io.Err, err)
		return ErrUsage
	}
	points, err := client.NewDocumentStore(c.client, c.logger).Heatmap(ctx, vp)
	if err != nil {
		return c.fail(&mapstate.TransportError{Op: "heatmap", Err: err})
	}
	for _, p := range points {
		fmt.Fprintf(c.io.Out, "%.6f,%.6f\t%d\t%.2f\n", p.Latitude, p.Longitude, p.Count, p.Intensity)
	}
	return nil
}

// signIn はメールアドレスとパスワードでサインイン（signUpなら登録）し、セッションを保存する。
func (c *command) signIn(ctx context.Context, email string, signUp bool) error {
	password := env("LOSTFOUND_PASSWORD")
	if password == "" {
		var err error
		password, err = client.PromptPassword(c.io.In, c.io.Err, "Password: ")
		if err != nil {
			return err
		}
	}

	identity := client.NewIdentityProvider(c.client)
	if err := identity.SignIn(ctx, mapstate.Credentials{
		Method:   "password",
		Email:    email,
		Password: password,
		SignUp:   signUp,
	}); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return c.failf(err, apiErr.Message)
		}
		return c.fail(&mapstate.TransportError{Op: "signin", Err: err})
	}
	if err := client.SaveSession(c.client, c.sessionFile); err != nil {
		return err
	}

	name := ""
	if id := identity.Current(); id != nil {
		name = id.DisplayName
	}
	fmt.Fprintf(c.io.Out, "Signed in as %s\n", name)
	return nil
}

// signOut はサーバーのセッションを破棄し、保存済みのトークンを削除する。
func (c *command) signOut(ctx context.Context) error {
	if err := client.LoadSession(c.client, c.sessionFile); err != nil {
		return err
	}
	if c.client.SessionToken() != "" {
		if err := client.NewIdentityProvider(c.client).SignOut(ctx); err != nil {
			return c.fail(&mapstate.TransportError{Op: "signout", Err: err})
		}
	}
	if err := client.SaveSession(c.client, c.sessionFile); err != nil {
		return err
	}
	fmt.Fprintln(c.io.Out, "Signed out")
	return nil
}

// withdraw はアカウントを削除する。自分のレポートは所有者なしとして残る。
func (c *command) withdraw(ctx context.Context, yes bool) error {
	m, identity, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if m.Session.CurrentIdentity() == nil {
		return c.fail(&mapstate.AuthRequiredError{})
	}
	if !yes {
		fmt.Fprint(c.io.Err, "Delete your account? Your reports stay on the map without an owner. [y/N] ")
		answer, err := client.ReadLine(c.io.In)
		if err != nil {
			return err
		}
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(c.io.Out, "Cancelled")
			return nil
		}
	}

	if err := identity.Withdraw(ctx); err != nil {
		return c.fail(&mapstate.TransportError{Op: "withdraw", Err: err})
	}
	if err := client.SaveSession(c.client, c.sessionFile); err != nil {
		return err
	}
	fmt.Fprintln(c.io.Out, "Account deleted")
	return nil
}

// readImage は添付画像を読み込み、Content-Typeを判定する。
func readImage(path string) (*mapstate.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image: %w", err)
	}
	if info.Size() > maxImageBytes {
		return nil, fmt.Errorf("image %s is larger than %d bytes", path, maxImageBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image: %w", err)
	}
	return &mapstate.Image{
		FileName:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

// parseBBox は "latMin,lonMin,latMax,lonMax" 形式の表示範囲を解析する。
func parseBBox(s string) (model.ViewPort, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.ViewPort{}, fmt.Errorf("bbox must be latMin,lonMin,latMax,lonMax: %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.ViewPort{}, fmt.Errorf("bbox value %q is not a number", p)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return model.ViewPort{}, fmt.Errorf("bbox minimum must be below maximum: %q", s)
	}
	return model.ViewPort{LatMin: v[0], LonMin: v[1], LatMax: v[2], LonMax: v[3]}, nil
}
