package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"castindex/internal/ledger"
	"castindex/internal/services"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Data Talk</title>
  <item>
    <title>Feature Stores #12</title>
    <pubDate>Mon, 04 Mar 2024 06:00:00 GMT</pubDate>
    <description>&lt;p&gt;Feature stores in &lt;b&gt;production&lt;/b&gt;&lt;/p&gt;</description>
    <enclosure url="%[1]s/12.mp3" type="audio/mpeg" length="10"/>
    <itunes:duration>42:00</itunes:duration>
  </item>
  <item>
    <title>Pilot</title>
    <pubDate>Mon, 26 Feb 2024 06:00:00 GMT</pubDate>
    <enclosure url="%[1]s/pilot.mp3" type="audio/mpeg" length="10"/>
  </item>
</channel>
</rss>`

type cliEnv struct {
	dataDir    string
	configPath string
}

func setupCLIEnv(t *testing.T, feedURL string) *cliEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("NTFY_TOPIC", "")
	dataDir := filepath.Join(base, "data")
	configPath := filepath.Join(base, "castindex.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q

[feed]
url = %q
detect_language = false

[transcription]
backend = "whisperx"

[llm]
api_key = "test"

[pipeline]
item_delay_seconds = 0

[annotation]
rate_delay_seconds = 0

[logging]
level = "error"
`, dataDir, feedURL)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliEnv{dataDir: dataDir, configPath: configPath}
}

func runCLI(t *testing.T, env *cliEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed.rss" {
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, testFeed, server.URL)
			return
		}
		_, _ = w.Write([]byte("ID3 fake audio"))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	env := setupCLIEnv(t, "")
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected target path in output, got %q", out)
	}
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
	if _, err := runCLI(t, env, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
}

func TestConfigValidateUsesFlag(t *testing.T) {
	env := setupCLIEnv(t, "https://feeds.example.test/show.rss")
	out, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, env.configPath) || !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRunWithoutItemsIsSetupError(t *testing.T) {
	env := setupCLIEnv(t, "https://feeds.example.test/show.rss")
	_, err := runCLI(t, env, "run", "--skip-preflight")
	if !errors.Is(err, services.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
}

func TestRunRejectsUnknownStage(t *testing.T) {
	env := setupCLIEnv(t, "https://feeds.example.test/show.rss")
	_, err := runCLI(t, env, "run", "--until", "publish", "--skip-preflight")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestIngestDownloadsFeedEpisodes(t *testing.T) {
	server := newFeedServer(t)
	env := setupCLIEnv(t, server.URL+"/feed.rss")

	out, err := runCLI(t, env, "ingest", "--latest", "5")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !strings.Contains(out, "Items added: 2") {
		t.Fatalf("unexpected ingest output %q", out)
	}
	for _, name := range []string{"ep12-feature-stores-12.mp3", "ep001-pilot.mp3"} {
		if _, err := os.Stat(filepath.Join(env.dataDir, "episodes", name)); err != nil {
			t.Fatalf("expected downloaded %s: %v", name, err)
		}
	}

	out, err = runCLI(t, env, "status", "--json")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var status struct {
		Items int `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v (%q)", err, out)
	}
	if status.Items != 2 {
		t.Fatalf("expected 2 items, got %d", status.Items)
	}
}

func TestRunRecordsFailuresAndLedgerRepair(t *testing.T) {
	server := newFeedServer(t)
	env := setupCLIEnv(t, server.URL+"/feed.rss")

	if _, err := runCLI(t, env, "ingest", "--no-download"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	out, err := runCLI(t, env, "run", "--until", "convert", "--skip-preflight", "--json")
	if err != nil {
		t.Fatalf("run should report item failures without erroring: %v", err)
	}
	var summary runSummaryJSON
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v (%q)", err, out)
	}
	if summary.Items != 2 || summary.Failed != 2 || len(summary.Failures) != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(env.dataDir, "analysis", "index.json")); err != nil {
		t.Fatalf("expected index to be written: %v", err)
	}

	out, err = runCLI(t, env, "ledger", "show", "--status", "failed", "--json")
	if err != nil {
		t.Fatalf("ledger show failed: %v", err)
	}
	var records []ledger.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 2 || records[0].ErrorKind != services.KindNotFound {
		t.Fatalf("unexpected failed records %+v", records)
	}

	exportPath := filepath.Join(t.TempDir(), "ledger.json")
	if _, err := runCLI(t, env, "ledger", "export", "-o", exportPath); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	out, err = runCLI(t, env, "ledger", "retry")
	if err != nil || !strings.Contains(out, "Requeued 2") {
		t.Fatalf("retry failed: %v %q", err, out)
	}
	out, err = runCLI(t, env, "ledger", "reset", "ep12")
	if err != nil || !strings.Contains(out, "Reset 1") {
		t.Fatalf("reset failed: %v %q", err, out)
	}

	if _, err := runCLI(t, env, "ledger", "import", exportPath); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	out, err = runCLI(t, env, "ledger", "show", "--status", "failed", "--json")
	if err != nil {
		t.Fatalf("ledger show failed: %v", err)
	}
	records = nil
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("import should restore the failed records, got %d", len(records))
	}
}

func TestAggregateWithoutAnnotations(t *testing.T) {
	server := newFeedServer(t)
	env := setupCLIEnv(t, server.URL+"/feed.rss")
	if _, err := runCLI(t, env, "ingest", "--no-download"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	yamlPath := filepath.Join(t.TempDir(), "index.yaml")
	out, err := runCLI(t, env, "aggregate", "--yaml", yamlPath)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if !strings.Contains(out, "Items analyzed: 0") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(yamlPath); err != nil {
		t.Fatalf("expected yaml index: %v", err)
	}
}

func TestScheduleNext(t *testing.T) {
	env := setupCLIEnv(t, "https://feeds.example.test/show.rss")
	out, err := runCLI(t, env, "schedule", "--next", "--cron", "0 6 * * *")
	if err != nil {
		t.Fatalf("schedule --next failed: %v", err)
	}
	if !strings.HasPrefix(out, "Next run: ") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := runCLI(t, env, "schedule", "--next", "--cron", "whenever"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLogsFiltersByItem(t *testing.T) {
	env := setupCLIEnv(t, "")
	logDir := filepath.Join(env.dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "INFO stage started item_id=ep1 stage=convert\nINFO stage started item_id=ep2 stage=convert\nINFO stage completed item_id=ep1 stage=upload\n"
	if err := os.WriteFile(filepath.Join(logDir, "castindex.log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "logs", "--item", "ep1", "--stage", "upload")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if strings.TrimSpace(out) != "INFO stage completed item_id=ep1 stage=upload" {
		t.Fatalf("unexpected logs output %q", out)
	}

	if _, err := runCLI(t, env, "logs", "--stage", "bogus"); err == nil {
		t.Fatal("expected unknown stage to fail")
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	env := setupCLIEnv(t, "https://feeds.example.test/show.rss")
	out, err := runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, env.dataDir) || !strings.Contains(out, "********") {
		t.Fatalf("unexpected config output %q", out)
	}
	if strings.Contains(out, `api_key = 'test'`) || strings.Contains(out, `api_key = "test"`) {
		t.Fatal("api key printed in clear")
	}
}
