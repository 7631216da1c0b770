package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

const testSession = "session-xyz"

// fakeServer はlostfoundctlが呼ぶAPIだけを実装したテスト用サーバー。
type fakeServer struct {
	mu      sync.Mutex
	reports []model.Report
	posted  []map[string]any
	patched []map[string]any
	places  []map[string]any
	deleted []string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "tok", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]string{"token": "tok"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "message": "not signed in"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "user-1", "email": "alice@example.edu", "name": "Alice"})
	})
	mux.HandleFunc("POST /auth/password/signin", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "secret1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "INVALID_CREDENTIALS", "message": "Email or password is incorrect."})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: testSession, Path: "/", HttpOnly: true})
		writeJSON(w, http.StatusOK, map[string]string{"id": "user-1", "email": req["email"], "name": "Alice"})
	})
	mux.HandleFunc("GET /api/reports", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"reports": f.reports})
	})
	mux.HandleFunc("GET /api/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, rep := range f.reports {
			if rep.ID == r.PathValue("id") {
				writeJSON(w, http.StatusOK, rep)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "REPORT_NOT_FOUND", "message": "report not found"})
	})
	mux.HandleFunc("POST /api/reports", func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "message": "not signed in"})
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posted = append(f.posted, body)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"id": "r-new"})
	})
	mux.HandleFunc("PATCH /api/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.patched = append(f.patched, body)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id")})
	})
	mux.HandleFunc("DELETE /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "message": "not signed in"})
			return
		}
		f.mu.Lock()
		f.deleted = append(f.deleted, "user-1")
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/geocode", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"places": f.places})
	})
	return mux
}

func (f *fakeServer) setReports(reports []model.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = reports
}

func (f *fakeServer) setPlaces(places []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places = places
}

// writes はサーバーが受け付けた書き込みリクエストの件数を返す。
func (f *fakeServer) writes() (posted, patched, deleted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted), len(f.patched), len(f.deleted)
}

func signedIn(r *http.Request) bool {
	ck, err := r.Cookie("session_id")
	return err == nil && ck.Value == testSession
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type runResult struct {
	out string
	err string
}

// runCtl はfakeServerに向けてコマンドを実行する。sessionが空でなければセッションファイルを用意する。
func runCtl(t *testing.T, srv *httptest.Server, session string, args ...string) (runResult, error) {
	t.Helper()
	dir := t.TempDir()
	sessionFile := filepath.Join(dir, "session")
	if session != "" {
		if err := os.WriteFile(sessionFile, []byte(session), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	var out, errOut bytes.Buffer
	full := append([]string{}, args[:1]...)
	full = append(full, "--server="+srv.URL, "--session="+sessionFile)
	full = append(full, args[1:]...)
	err := Run(context.Background(), full, IO{In: os.Stdin, Out: &out, Err: &errOut})
	return runResult{out: out.String(), err: errOut.String()}, err
}

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	orig := env
	env = func(key string) string { return values[key] }
	t.Cleanup(func() { env = orig })
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	withEnv(t, nil)
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)
	return fs, srv
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer

	err := Run(context.Background(), []string{"--help"}, IO{Out: &out, Err: &out})

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "lostfoundctl report [options] --lat=<lat> --lon=<lon> <description>") {
		t.Errorf("usage not printed: %q", out.String())
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer

	if err := Run(context.Background(), []string{"--version"}, IO{Out: &out, Err: &out}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(out.String()) != Version {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRun_InvalidArguments(t *testing.T) {
	var out, errOut bytes.Buffer

	err := Run(context.Background(), []string{"frobnicate"}, IO{Out: &out, Err: &errOut})

	if !errors.Is(err, ErrUsage) {
		t.Errorf("expected ErrUsage, got %v", err)
	}
	if errOut.Len() == 0 {
		t.Error("expected usage on stderr")
	}
}

func TestRun_List(t *testing.T) {
	fs, srv := newFakeServer(t)
	base := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	mine, alice := "user-1", "Alice"
	other, bob := "user-2", "Bob"
	fs.setReports([]model.Report{
		{ID: "old", Description: "Keys", CreatedAt: base, OwnerID: &other, OwnerDisplayName: &bob},
		{ID: "new", Description: "Blue backpack", CreatedAt: base.Add(time.Hour), OwnerID: &mine, OwnerDisplayName: &alice},
	})

	res, err := runCtl(t, srv, testSession, "list")

	if err != nil {
		t.Fatalf("Run() error = %v, stderr = %s", err, res.err)
	}
	lines := strings.Split(strings.TrimSpace(res.out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", res.out)
	}
	if !strings.HasPrefix(lines[1], "*") || !strings.Contains(lines[1], "new") || !strings.Contains(lines[1], "Alice") {
		t.Errorf("first row = %q", lines[1])
	}
	if strings.HasPrefix(lines[2], "*") || !strings.Contains(lines[2], "old") {
		t.Errorf("second row = %q", lines[2])
	}
}

func TestRun_ListJSON(t *testing.T) {
	fs, srv := newFakeServer(t)
	base := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	fs.setReports([]model.Report{
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	})

	res, err := runCtl(t, srv, "", "list", "--json")

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var got []model.Report
	if err := json.Unmarshal([]byte(res.out), &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("reports = %+v", got)
	}
}

func TestRun_Report_SignedOut(t *testing.T) {
	fs, srv := newFakeServer(t)

	res, err := runCtl(t, srv, "", "report", "--lat=44.56", "--lon=-69.66", "Blue backpack")

	if err == nil {
		t.Fatal("expected error")
	}
	if !Shown(err) {
		t.Error("expected the error to be shown to the user")
	}
	if !strings.Contains(res.err, "You must be logged in to submit a report.") {
		t.Errorf("stderr = %q", res.err)
	}
	if posted, _, _ := fs.writes(); posted != 0 {
		t.Errorf("unexpected POST: %d", posted)
	}
}

func TestRun_Report_EmptyDescription(t *testing.T) {
	fs, srv := newFakeServer(t)

	res, err := runCtl(t, srv, testSession, "report", "--lat=44.56", "--lon=-69.66", "   ")

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(res.err, "Please describe the lost item.") {
		t.Errorf("stderr = %q", res.err)
	}
	if posted, _, _ := fs.writes(); posted != 0 {
		t.Errorf("unexpected POST: %d", posted)
	}
}

func TestRun_Report(t *testing.T) {
	fs, srv := newFakeServer(t)

	res, err := runCtl(t, srv, testSession, "report", "--lat=44.56", "--lon=-69.66", "Blue backpack")

	if err != nil {
		t.Fatalf("Run() error = %v, stderr = %s", err, res.err)
	}
	if !strings.Contains(res.out, "Report submitted: r-new") {
		t.Errorf("stdout = %q", res.out)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.posted) != 1 {
		t.Fatalf("posted %d reports", len(fs.posted))
	}
	body := fs.posted[0]
	loc := body["location"].(map[string]any)
	if body["description"] != "Blue backpack" || loc["latitude"] != 44.56 || loc["longitude"] != -69.66 {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["imageUrl"]; ok {
		t.Error("imageUrl should be omitted without an image")
	}
}

func TestRun_Edit_OtherOwnerRejected(t *testing.T) {
	fs, srv := newFakeServer(t)
	other := "user-2"
	fs.setReports([]model.Report{{ID: "r1", Description: "Keys", OwnerID: &other}})

	res, err := runCtl(t, srv, testSession, "edit", "r1", "--description=Found")

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(res.err, "You can only edit your own reports.") {
		t.Errorf("stderr = %q", res.err)
	}
	if _, patched, _ := fs.writes(); patched != 0 {
		t.Errorf("unexpected PATCH: %d", patched)
	}
}

func TestRun_Edit_AnonymousOwned(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.setReports([]model.Report{{ID: "legacy", Description: "Umbrella"}})

	res, err := runCtl(t, srv, testSession, "edit", "legacy", "--description=Picked up at front desk")

	if err != nil {
		t.Fatalf("Run() error = %v, stderr = %s", err, res.err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.patched) != 1 || fs.patched[0]["description"] != "Picked up at front desk" {
		t.Errorf("patched = %v", fs.patched)
	}
}

func TestRun_Edit_NotFound(t *testing.T) {
	_, srv := newFakeServer(t)

	res, err := runCtl(t, srv, testSession, "edit", "missing", "--description=x")

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(res.err, "Report not found: missing") {
		t.Errorf("stderr = %q", res.err)
	}
}

func TestRun_Edit_NothingToChange(t *testing.T) {
	_, srv := newFakeServer(t)

	_, err := runCtl(t, srv, testSession, "edit", "r1")

	if !errors.Is(err, ErrUsage) {
		t.Errorf("expected ErrUsage, got %v", err)
	}
}

func TestRun_Search(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.setPlaces([]map[string]any{{"name": "Miller Library", "location": map[string]float64{"latitude": 44.5626, "longitude": -69.6625}}})

	res, err := runCtl(t, srv, "", "search", "Library")

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.out) != "Miller Library\t44.562600,-69.662500" {
		t.Errorf("stdout = %q", res.out)
	}
}

func TestRun_Search_NotFound(t *testing.T) {
	_, srv := newFakeServer(t)

	res, err := runCtl(t, srv, "", "search", "Library")

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(res.err, "Location not found.") {
		t.Errorf("stderr = %q", res.err)
	}
}

func TestRun_SignIn_SavesSession(t *testing.T) {
	_, srv := newFakeServer(t)
	withEnv(t, map[string]string{"LOSTFOUND_PASSWORD": "secret1"})
	sessionFile := filepath.Join(t.TempDir(), "session")
	var out, errOut bytes.Buffer

	err := Run(context.Background(), []string{"signin", "--server=" + srv.URL, "--session=" + sessionFile, "alice@example.edu"},
		IO{In: os.Stdin, Out: &out, Err: &errOut})

	if err != nil {
		t.Fatalf("Run() error = %v, stderr = %s", err, errOut.String())
	}
	if !strings.Contains(out.String(), "Signed in as Alice") {
		t.Errorf("stdout = %q", out.String())
	}
	saved, err := os.ReadFile(sessionFile)
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}
	if strings.TrimSpace(string(saved)) != testSession {
		t.Errorf("saved session = %q", saved)
	}
}

func TestRun_SignIn_WrongPassword(t *testing.T) {
	_, srv := newFakeServer(t)
	withEnv(t, map[string]string{"LOSTFOUND_PASSWORD": "wrong"})
	sessionFile := filepath.Join(t.TempDir(), "session")
	var out, errOut bytes.Buffer

	err := Run(context.Background(), []string{"signin", "--server=" + srv.URL, "--session=" + sessionFile, "alice@example.edu"},
		IO{In: os.Stdin, Out: &out, Err: &errOut})

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(errOut.String(), "Email or password is incorrect.") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if _, statErr := os.Stat(sessionFile); !os.IsNotExist(statErr) {
		t.Error("session file should not be written")
	}
}

func TestRun_Withdraw(t *testing.T) {
	fs, srv := newFakeServer(t)
	sessionFile := filepath.Join(t.TempDir(), "session")
	if err := os.WriteFile(sessionFile, []byte(testSession+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer

	err := Run(context.Background(), []string{"withdraw", "--server=" + srv.URL, "--session=" + sessionFile, "--yes"},
		IO{In: os.Stdin, Out: &out, Err: &errOut})

	if err != nil {
		t.Fatalf("Run() error = %v, stderr = %s", err, errOut.String())
	}
	if !strings.Contains(out.String(), "Account deleted") {
		t.Errorf("stdout = %q", out.String())
	}
	if _, _, deleted := fs.writes(); deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, statErr := os.Stat(sessionFile); !os.IsNotExist(statErr) {
		t.Error("session file should be removed")
	}
}

func TestRun_Withdraw_SignedOut(t *testing.T) {
	fs, srv := newFakeServer(t)

	res, err := runCtl(t, srv, "", "withdraw", "--yes")

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(res.err, "You must be logged in") {
		t.Errorf("stderr = %q", res.err)
	}
	if _, _, deleted := fs.writes(); deleted != 0 {
		t.Errorf("unexpected DELETE: %d", deleted)
	}
}

func TestParseBBox(t *testing.T) {
	vp, err := parseBBox("44.5,-69.7,44.6,-69.6")
	if err != nil {
		t.Fatalf("parseBBox() error = %v", err)
	}
	want := model.ViewPort{LatMin: 44.5, LonMin: -69.7, LatMax: 44.6, LonMax: -69.6}
	if vp != want {
		t.Errorf("parseBBox() = %+v, want %+v", vp, want)
	}

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "44.6,-69.7,44.5,-69.6", "1,1,1,1"} {
		if _, err := parseBBox(bad); err == nil {
			t.Errorf("parseBBox(%q) expected error", bad)
		}
	}
}

func TestSummarize(t *testing.T) {
	img := "https://example.com/x.png"
	long := strings.Repeat("あ", maxListDescription+10)

	if got := summarize(model.Report{Description: "Blue\n  backpack"}); got != "Blue backpack" {
		t.Errorf("summarize() = %q", got)
	}
	if got := summarize(model.Report{Description: "Keys", ImageURL: &img}); got != "Keys [photo]" {
		t.Errorf("summarize() = %q", got)
	}
	got := summarize(model.Report{Description: long})
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != maxListDescription {
		t.Errorf("summarize() = %q", got)
	}
}
