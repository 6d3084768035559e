package profile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papapumpkin/corona/internal/chain"
	"github.com/papapumpkin/corona/internal/mapping"
)

// Store reads and writes profile item files under one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the profiles directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path of an item's file.
func (s *Store) Path(it Item) string {
	return filepath.Join(s.dir, filepath.Clean(string(filepath.Separator)+it.File))
}

// Base reads the current profile. With no current profile the base is an
// empty mapping.
func (s *Store) Base(p Profiles) (mapping.Mapping, error) {
	it, ok := p.CurrentItem()
	if !ok {
		return mapping.Mapping{}, nil
	}
	m, err := mapping.ReadFile(s.Path(it))
	if err != nil {
		return nil, fmt.Errorf("profile: reading %s: %w", it.UID, err)
	}
	return m, nil
}

// Resolve turns chain UIDs into chain items. An item that cannot be found or
// read becomes a failed item carrying the reason, so the pipeline can report
// it under its UID.
func (s *Store) Resolve(p Profiles, uids []string) []chain.Item {
	items := make([]chain.Item, 0, len(uids))
	for _, uid := range uids {
		items = append(items, s.resolve(p, uid))
	}
	return items
}

func (s *Store) resolve(p Profiles, uid string) chain.Item {
	it, ok := p.Item(uid)
	if !ok {
		return chain.FailedItem(uid, fmt.Errorf("%w: %s", ErrUnknownItem, uid))
	}
	path := s.Path(it)
	switch it.Type {
	case TypeMerge:
		m, err := mapping.ReadFile(path)
		if err != nil {
			return chain.FailedItem(uid, err)
		}
		return chain.MergeItem(uid, m)
	case TypeScript:
		kind, err := chain.KindOf(path)
		if err != nil {
			return chain.FailedItem(uid, err)
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return chain.FailedItem(uid, fmt.Errorf("reading %s: %w", it.File, err))
		}
		return chain.ScriptItem(uid, kind, string(src))
	}
	return chain.FailedItem(uid, fmt.Errorf("%s: %w", uid, ErrWrongType))
}

// Files returns the paths the generated config depends on: the current
// profile and every chain item.
func (s *Store) Files(p Profiles) []string {
	var files []string
	if it, ok := p.CurrentItem(); ok {
		files = append(files, s.Path(it))
	}
	for _, uid := range p.Chain {
		if it, ok := p.Item(uid); ok {
			files = append(files, s.Path(it))
		}
	}
	return files
}

// Import copies the file at src into the profiles directory as a new item
// of type typ. The file must parse as a mapping (profiles and merges) or
// have a script extension (scripts).
func (s *Store) Import(src string, typ ItemType, name string) (Item, error) {
	ext := strings.ToLower(filepath.Ext(src))
	switch {
	case typ == TypeScript:
		if _, err := chain.KindOf(src); err != nil {
			return Item{}, err
		}
	case typ == TypeRemote:
		return Item{}, fmt.Errorf("profile: remote items cannot be imported from a file")
	default:
		if _, err := mapping.ReadFile(src); err != nil {
			return Item{}, fmt.Errorf("profile: %w", err)
		}
	}

	uid, err := newUID(typ)
	if err != nil {
		return Item{}, err
	}
	it := Item{
		UID:     uid,
		Type:    typ,
		Name:    name,
		File:    uid + ext,
		Updated: time.Now().Unix(),
	}
	if it.Name == "" {
		it.Name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Item{}, fmt.Errorf("profile: creating %s: %w", s.dir, err)
	}
	if err := copyFile(src, s.Path(it)); err != nil {
		return Item{}, fmt.Errorf("profile: importing %s: %w", filepath.Base(src), err)
	}
	return it, nil
}

// Remove deletes an item's file. A file that is already gone is not an
// error.
func (s *Store) Remove(it Item) error {
	if err := os.Remove(s.Path(it)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("profile: removing %s: %w", it.UID, err)
	}
	return nil
}

// newUID prefixes a random UUID with the item type's first letter.
func newUID(typ ItemType) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("profile: generating uid: %w", err)
	}
	return string(typ[0]) + id.String(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
