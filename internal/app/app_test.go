package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/papapumpkin/corona/internal/clash"
	"github.com/papapumpkin/corona/internal/config"
	"github.com/papapumpkin/corona/internal/mapping"
	"github.com/papapumpkin/corona/internal/metrics"
	"github.com/papapumpkin/corona/internal/profile"
	"github.com/papapumpkin/corona/internal/settings"
	"github.com/papapumpkin/corona/internal/state"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	home := t.TempDir()
	return config.Config{
		Home:          home,
		RuntimeFile:   filepath.Join(home, "clash-runtime.yaml"),
		HistoryDB:     filepath.Join(home, "history.db"),
		TelemetryFile: filepath.Join(home, "telemetry.jsonl"),
		HistoryKeep:   50,
	}
}

func newApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t), append([]Option{WithGOOS("linux")}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func readRuntime(t *testing.T, a *App) mapping.Mapping {
	t.Helper()
	m, err := mapping.ReadFile(a.Config().RuntimeFile)
	if err != nil {
		t.Fatalf("reading runtime config: %v", err)
	}
	return m
}

func setClash(t *testing.T, a *App, key, value string) {
	t.Helper()
	patch, err := clash.Patch(key, value)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Clash.Upsert(context.Background(), patch); err != nil {
		t.Fatalf("clash upsert %s=%s: %v", key, value, err)
	}
}

func setSetting(t *testing.T, a *App, key, value string) {
	t.Helper()
	patch, err := settings.Patch(key, value)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Settings.Upsert(context.Background(), patch); err != nil {
		t.Fatalf("settings upsert %s=%s: %v", key, value, err)
	}
}

func TestImportGeneratesRuntimeConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newApp(t)

	setClash(t, a, "mixed-port", "7890")
	it, err := a.Import(ctx, writeSource(t, "home.yaml", "mixed-port: 7891\nproxies: []\nbogus: 1\n"), profile.TypeLocal, "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	p, _ := a.Profiles.Current()
	if p.Current != it.UID {
		t.Errorf("current = %q, want the first imported profile %q", p.Current, it.UID)
	}

	got := readRuntime(t, a)
	if fmt.Sprint(got["mixed-port"]) != "7890" {
		t.Errorf("mixed-port = %v, want the clash-owned 7890", got["mixed-port"])
	}
	if got.Has("bogus") {
		t.Error("unknown key survived field filtering")
	}
	data, _ := os.ReadFile(a.Config().RuntimeFile)
	if !strings.HasPrefix(string(data), "# "+runtimeHeader) {
		t.Errorf("runtime config missing header:\n%s", data)
	}

	runs, err := a.History().Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	var sources []string
	for _, r := range runs {
		sources = append(sources, r.Source)
	}
	if diff := cmp.Diff([]string{DomainProfiles, DomainClash}, sources); diff != "" {
		t.Errorf("run sources mismatch (-want +got):\n%s", diff)
	}
	if runs[0].Profile != "home" || !runs[0].Written {
		t.Errorf("latest run = %+v", runs[0])
	}
}

func TestApplySkipsUnchangedOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newApp(t)

	first, err := a.Apply(ctx, SourceManual)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !first.Written {
		t.Error("first Apply did not write")
	}
	second, err := a.Apply(ctx, SourceManual)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if second.Written {
		t.Error("second Apply rewrote identical output")
	}
	if first.Digest != second.Digest || len(first.Digest) != 64 {
		t.Errorf("digests = %q, %q", first.Digest, second.Digest)
	}

	drift, err := a.Drift(ctx)
	if err != nil || drift {
		t.Fatalf("Drift after Apply = %v, %v", drift, err)
	}
	if err := os.WriteFile(a.Config().RuntimeFile, []byte("mode: direct\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if drift, _ := a.Drift(ctx); !drift {
		t.Error("manual edit not reported as drift")
	}
}

func TestTunSettingsReachRuntime(t *testing.T) {
	t.Parallel()
	a := newApp(t)

	setSetting(t, a, "tun-stack", "system")
	setSetting(t, a, "enable-tun", "true")

	tun, ok := readRuntime(t, a).Section("tun")
	if !ok {
		t.Fatal("runtime config has no tun section")
	}
	if tun["enable"] != true || tun["stack"] != "system" {
		t.Errorf("tun = %v", tun)
	}
	dns, ok := readRuntime(t, a).Section("dns")
	if !ok || dns["enable"] != true {
		t.Errorf("dns = %v", dns)
	}

	setSetting(t, a, "enable-tun", "false")
	if tun, ok := readRuntime(t, a).Section("tun"); ok && tun["enable"] != false {
		t.Errorf("tun after disabling = %v", tun)
	}
}

func TestChainItemsApplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newApp(t)

	if _, err := a.Import(ctx, writeSource(t, "base.yaml", "proxies: []\n"), profile.TypeLocal, "base"); err != nil {
		t.Fatal(err)
	}
	merge, err := a.Import(ctx, writeSource(t, "rules.jsonc", `{"rules": ["MATCH,DIRECT"], // trailing
}`), profile.TypeMerge, "")
	if err != nil {
		t.Fatalf("Import merge: %v", err)
	}
	js, err := a.Import(ctx, writeSource(t, "named.js", `function main(config, name) {
  console.log("profile", name);
  config["proxy-groups"] = [{name: name, type: "select", proxies: ["DIRECT"]}];
  return config;
}`), profile.TypeScript, "")
	if err != nil {
		t.Fatalf("Import script: %v", err)
	}
	broken, err := a.Import(ctx, writeSource(t, "broken.js", `throw new Error("nope")`), profile.TypeScript, "")
	if err != nil {
		t.Fatalf("Import broken script: %v", err)
	}

	if err := a.Profiles.Upsert(ctx, profile.WithChain([]string{merge.UID, broken.UID, js.UID})); err != nil {
		t.Fatalf("set chain: %v", err)
	}

	got := readRuntime(t, a)
	if diff := cmp.Diff([]any{"MATCH,DIRECT"}, got["rules"]); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
	groups, _ := got["proxy-groups"].([]any)
	if len(groups) != 1 {
		t.Fatalf("proxy-groups = %v", got["proxy-groups"])
	}
	if g, _ := mapping.AsMapping(groups[0]); g["name"] != "base" {
		t.Errorf("script did not see the profile name: %v", groups[0])
	}

	runs, _ := a.History().Recent(ctx, 1)
	run, err := a.History().Get(ctx, runs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Errors != 1 {
		t.Errorf("run errors = %d, want 1 from the failing script", run.Errors)
	}
	var uids []string
	for _, e := range run.Logs[:3] {
		uids = append(uids, e.UID)
	}
	if diff := cmp.Diff([]string{merge.UID, broken.UID, js.UID}, uids); diff != "" {
		t.Errorf("log order mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryFailureRestoresRuntimeFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newApp(t)

	setClash(t, a, "mixed-port", "7890")
	before, err := os.ReadFile(a.Config().RuntimeFile)
	if err != nil {
		t.Fatal(err)
	}

	a.History().Close()
	patch, _ := clash.Patch("mixed-port", "9999")
	err = a.Clash.Upsert(ctx, patch)

	var ce *state.ChangeError
	if !errors.As(err, &ce) {
		t.Fatalf("Upsert error = %v, want *state.ChangeError", err)
	}
	if ce.Subscriber != "history" || ce.Domain != DomainClash {
		t.Errorf("failure attributed to %s/%s", ce.Domain, ce.Subscriber)
	}
	after, _ := os.ReadFile(a.Config().RuntimeFile)
	if string(after) != string(before) {
		t.Errorf("runtime config not restored:\n%s", after)
	}
	if c, _ := a.Clash.Current(); c.MixedPort != 7890 {
		t.Errorf("clash state committed despite failure: mixed-port %d", c.MixedPort)
	}
}

func TestUnreadableProfileRejectsChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newApp(t)

	it, err := a.Import(ctx, writeSource(t, "home.yaml", "proxies: []\n"), profile.TypeLocal, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a.Store().Path(it), []byte("- not\n- a mapping\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch, _ := settings.Patch("enable-filter", "false")
	err = a.Settings.Upsert(ctx, patch)
	if !errors.Is(err, state.ErrMigrate) {
		t.Fatalf("Upsert error = %v, want ErrMigrate", err)
	}
	if s, _ := a.Settings.Current(); !s.EnableFilter {
		t.Error("settings changed despite the failed regeneration")
	}

	if err := a.Remove(ctx, it.UID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if p, _ := a.Profiles.Current(); p.Current != "" || len(p.Items) != 0 {
		t.Errorf("profiles after Remove = %+v", p)
	}
	if _, err := os.Stat(a.Store().Path(it)); !os.IsNotExist(err) {
		t.Errorf("item file not removed: %v", err)
	}
	if err := a.Remove(ctx, it.UID); !errors.Is(err, profile.ErrUnknownItem) {
		t.Errorf("second Remove error = %v, want ErrUnknownItem", err)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	setClash(t, a, "mode", "global")
	setSetting(t, a, "core", "clash-rs")
	a.Close()

	b, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if c, _ := b.Clash.Current(); c.Mode != "global" {
		t.Errorf("mode after restart = %q", c.Mode)
	}
	if s, _ := b.Settings.Current(); s.Core != "clash-rs" {
		t.Errorf("core after restart = %q", s.Core)
	}
	data, _ := os.ReadFile(cfg.SettingsFile())
	if !strings.HasPrefix(string(data), "# managed by corona") {
		t.Errorf("settings file missing header:\n%s", data)
	}
}

func TestObserversRecordTransitions(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	a := newApp(t, WithMetrics(metrics.New(reg)))

	setClash(t, a, "allow-lan", "true")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"corona_state_transitions_total", "corona_upsert_duration_seconds", "corona_enhance_runs_total"} {
		if !names[want] {
			t.Errorf("metric %s not recorded", want)
		}
	}

	data, err := os.ReadFile(a.Config().TelemetryFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"kind":"upsert_start"`, `"kind":"migrated"`, `"kind":"committed"`, `"kind":"run"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("telemetry missing %s", want)
		}
	}
}
