package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/corona/internal/config"
	"github.com/papapumpkin/corona/internal/profile"
	"github.com/papapumpkin/corona/internal/watch"
)

func TestWatchRegeneratesOnProfileChange(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newApp(t)

	it, err := a.Import(ctx, writeSource(t, "home.yaml", "proxies: []\n"), profile.TypeLocal, "")
	if err != nil {
		t.Fatal(err)
	}

	runs := make(chan Outcome, 4)
	done := make(chan error, 1)
	go func() {
		done <- a.Watch(ctx, func(o Outcome, err error) {
			if err == nil {
				runs <- o
			}
		}, watch.WithDebounce(20*time.Millisecond))
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(a.Store().Path(it), []byte("proxies: []\nrules: [\"MATCH,DIRECT\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case o := <-runs:
		if !o.Written {
			t.Error("watch run did not write the changed config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no regeneration after the profile changed")
	}
	if !readRuntime(t, a).Has("rules") {
		t.Error("runtime config missing rules from the edited profile")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestBackupRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Backup = config.BackupConfig{Driver: "fs", Dir: filepath.Join(cfg.Home, "backups")}
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })

	it, err := a.Import(ctx, writeSource(t, "home.yaml", "proxies: []\n"), profile.TypeLocal, "")
	if err != nil {
		t.Fatal(err)
	}
	setClash(t, a, "mode", "global")

	key, n, err := a.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	// The settings file was never written, so only clash, profiles and the
	// profile item are archived.
	if n != 3 {
		t.Errorf("Push archived %d files, want 3", n)
	}

	setClash(t, a, "mode", "direct")
	if err := a.Remove(ctx, it.UID); err != nil {
		t.Fatal(err)
	}

	got, restored, err := a.Restore(ctx, "")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got != key || len(restored) != n {
		t.Errorf("Restore = %q, %d files; want %q, %d", got, len(restored), key, n)
	}
	if c, _ := a.Clash.Current(); c.Mode != "global" {
		t.Errorf("mode after restore = %q", c.Mode)
	}
	if p, _ := a.Profiles.Current(); p.Current != it.UID {
		t.Errorf("current after restore = %q", p.Current)
	}
	if _, err := os.Stat(a.Store().Path(it)); err != nil {
		t.Errorf("profile file not restored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newApp(t)

	it, err := a.Import(ctx, writeSource(t, "home.yaml", "proxies: []\n"), profile.TypeLocal, "")
	if err != nil {
		t.Fatal(err)
	}
	failed := func() []string {
		var names []string
		for _, c := range a.Validate(ctx) {
			if c.Err != nil {
				names = append(names, c.Name)
			}
		}
		return names
	}
	if got := failed(); len(got) != 0 {
		t.Fatalf("fresh state failed checks: %v", got)
	}

	if err := os.WriteFile(a.Store().Path(it), []byte("[broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a.Config().ClashFile(), []byte("mixed-port: 99999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"state " + a.Config().ClashFile(),
		"profile home",
	}
	if diff := cmp.Diff(want, failed()); diff != "" {
		t.Errorf("failed checks mismatch (-want +got):\n%s", diff)
	}
}
