package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/papapumpkin/corona/internal/state"
)

// ErrNotFound is returned by Store.Get for an unknown key.
var ErrNotFound = errors.New("backup: archive not found")

// Suffix is the file extension of every archive key.
const Suffix = ".tar.zst"

// Info describes a stored archive.
type Info struct {
	Key      string
	Size     int64
	Modified time.Time
}

// Store holds archives by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context) ([]Info, error)
}

// FSStore keeps archives as files in a directory.
type FSStore struct {
	dir string
}

// NewFSStore returns a store writing to dir.
func NewFSStore(dir string) *FSStore { return &FSStore{dir: dir} }

// Put writes the archive atomically.
func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return state.WriteFile(filepath.Join(s.dir, key), data, 0o644)
}

// Get opens the archive for reading.
func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

// List returns the archives in the directory sorted by key. A missing
// directory holds no archives.
func (s *FSStore) List(context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: listing %s: %w", s.dir, err)
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Suffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Key: e.Name(), Size: fi.Size(), Modified: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func checkKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("backup: invalid key %q", key)
	}
	return nil
}

// Backup pushes and pulls archives of the files under a root directory.
type Backup struct {
	store Store
	root  string
	now   func() time.Time
}

// New returns a Backup of files under root kept in store.
func New(store Store, root string) *Backup {
	return &Backup{store: store, root: root, now: time.Now}
}

// Push archives files under a timestamped key and returns the key and the
// number of files archived.
func (b *Backup) Push(ctx context.Context, files []string) (string, int, error) {
	var buf bytes.Buffer
	n, err := Pack(&buf, b.root, files)
	if err != nil {
		return "", 0, err
	}
	key := "corona-" + b.now().UTC().Format("20060102T150405.000Z") + Suffix
	if err := b.store.Put(ctx, key, buf.Bytes()); err != nil {
		return "", 0, fmt.Errorf("backup: storing %s: %w", key, err)
	}
	return key, n, nil
}

// List returns the stored archives, oldest first.
func (b *Backup) List(ctx context.Context) ([]Info, error) {
	return b.store.List(ctx)
}

// Pull restores the archive stored under key into the root and returns the
// key and the restored paths. An empty key restores the newest archive.
func (b *Backup) Pull(ctx context.Context, key string) (string, []string, error) {
	if key == "" {
		infos, err := b.store.List(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(infos) == 0 {
			return "", nil, fmt.Errorf("%w: no archives stored", ErrNotFound)
		}
		key = infos[len(infos)-1].Key
	}
	rc, err := b.store.Get(ctx, key)
	if err != nil {
		return key, nil, err
	}
	defer rc.Close()
	restored, err := Unpack(rc, b.root)
	return key, restored, err
}
