// Package profile is the profile list domain: the known profile items, the
// current profile, the chain of merge and script items applied on top of
// it, and the extra fields the user allows through the chain.
package profile

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Sentinel errors for profile list validation.
var (
	// ErrUnknownItem indicates a UID with no matching item.
	ErrUnknownItem = errors.New("unknown profile item")
	// ErrDuplicateUID indicates two items sharing a UID.
	ErrDuplicateUID = errors.New("duplicate profile item uid")
	// ErrWrongType indicates an item used in a role its type does not allow.
	ErrWrongType = errors.New("profile item has the wrong type")
	// ErrMissingField indicates a required item field is empty.
	ErrMissingField = errors.New("required field missing")
)

// ItemType is the kind of a profile item.
type ItemType string

// Item types. Local and remote items are profiles; merge and script items
// are chain steps.
const (
	TypeLocal  ItemType = "local"
	TypeRemote ItemType = "remote"
	TypeMerge  ItemType = "merge"
	TypeScript ItemType = "script"
)

// ParseItemType converts a user-supplied name into an ItemType.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeLocal, TypeRemote, TypeMerge, TypeScript:
		return t, nil
	}
	return "", fmt.Errorf("unknown item type %q", s)
}

// IsProfile reports whether items of this type can be the current profile.
func (t ItemType) IsProfile() bool { return t == TypeLocal || t == TypeRemote }

// IsChain reports whether items of this type can appear in the chain.
func (t ItemType) IsChain() bool { return t == TypeMerge || t == TypeScript }

// Item is one entry of the profile list. File is relative to the profiles
// directory.
type Item struct {
	UID     string   `yaml:"uid"`
	Type    ItemType `yaml:"type"`
	Name    string   `yaml:"name,omitempty"`
	Desc    string   `yaml:"desc,omitempty"`
	File    string   `yaml:"file"`
	URL     string   `yaml:"url,omitempty"`
	Updated int64    `yaml:"updated,omitempty"`
}

// DisplayName returns Name, or the UID when the item is unnamed.
func (it Item) DisplayName() string {
	if it.Name != "" {
		return it.Name
	}
	return it.UID
}

// Profiles is the validated profile list.
type Profiles struct {
	Current string
	Chain   []string
	Valid   []string
	Items   []Item
}

// Item returns the item with the given UID.
func (p Profiles) Item(uid string) (Item, bool) {
	for _, it := range p.Items {
		if it.UID == uid {
			return it, true
		}
	}
	return Item{}, false
}

// CurrentItem returns the current profile item, if one is selected.
func (p Profiles) CurrentItem() (Item, bool) {
	if p.Current == "" {
		return Item{}, false
	}
	return p.Item(p.Current)
}

// Builder is a profile list draft. Nil fields are unset.
type Builder struct {
	Current *string   `yaml:"current,omitempty"`
	Chain   *[]string `yaml:"chain,omitempty"`
	Valid   *[]string `yaml:"valid,omitempty"`
	Items   *[]Item   `yaml:"items,omitempty"`
}

// Defaults returns an empty profile list.
func Defaults() Builder {
	return Builder{
		Current: ptr(""),
		Chain:   ptr([]string{}),
		Valid:   ptr([]string{}),
		Items:   ptr([]Item{}),
	}
}

// Merge returns b with every field set in patch overriding b's.
func (b Builder) Merge(patch Builder) Builder {
	if patch.Current != nil {
		b.Current = patch.Current
	}
	if patch.Chain != nil {
		b.Chain = patch.Chain
	}
	if patch.Valid != nil {
		b.Valid = patch.Valid
	}
	if patch.Items != nil {
		b.Items = patch.Items
	}
	return b
}

// Build validates the draft: item UIDs are unique, items carry a type and a
// file, the current profile is a local or remote item, and every chain entry
// is a merge or script item.
func (b Builder) Build() (Profiles, error) {
	f := Defaults().Merge(b)
	p := Profiles{
		Current: *f.Current,
		Chain:   slices.Clone(*f.Chain),
		Items:   slices.Clone(*f.Items),
	}
	for _, v := range *f.Valid {
		p.Valid = append(p.Valid, strings.ToLower(strings.TrimSpace(v)))
	}

	seen := make(map[string]bool, len(p.Items))
	for _, it := range p.Items {
		switch {
		case it.UID == "":
			return Profiles{}, fmt.Errorf("item %q: uid: %w", it.Name, ErrMissingField)
		case seen[it.UID]:
			return Profiles{}, fmt.Errorf("%w: %s", ErrDuplicateUID, it.UID)
		case !it.Type.IsProfile() && !it.Type.IsChain():
			return Profiles{}, fmt.Errorf("item %s: type %q: %w", it.UID, it.Type, ErrWrongType)
		case it.File == "":
			return Profiles{}, fmt.Errorf("item %s: file: %w", it.UID, ErrMissingField)
		}
		seen[it.UID] = true
	}

	if p.Current != "" {
		it, ok := p.Item(p.Current)
		if !ok {
			return Profiles{}, fmt.Errorf("current: %w: %s", ErrUnknownItem, p.Current)
		}
		if !it.Type.IsProfile() {
			return Profiles{}, fmt.Errorf("current: %s is a %s item: %w", it.UID, it.Type, ErrWrongType)
		}
	}
	for _, uid := range p.Chain {
		it, ok := p.Item(uid)
		if !ok {
			return Profiles{}, fmt.Errorf("chain: %w: %s", ErrUnknownItem, uid)
		}
		if !it.Type.IsChain() {
			return Profiles{}, fmt.Errorf("chain: %s is a %s item: %w", it.UID, it.Type, ErrWrongType)
		}
	}
	return p, nil
}

// WithCurrent returns a patch selecting uid as the current profile.
func WithCurrent(uid string) Builder { return Builder{Current: &uid} }

// WithChain returns a patch replacing the chain.
func WithChain(uids []string) Builder { return Builder{Chain: ptr(slices.Clone(uids))} }

// WithValid returns a patch replacing the user's extra valid fields.
func WithValid(fields []string) Builder { return Builder{Valid: ptr(slices.Clone(fields))} }

// WithItems returns a patch replacing the item list.
func WithItems(items []Item) Builder { return Builder{Items: ptr(slices.Clone(items))} }

// WithoutItem returns a patch removing uid from p: the item itself, its chain
// entry and, when it is current, the current selection.
func WithoutItem(p Profiles, uid string) Builder {
	items := slices.DeleteFunc(slices.Clone(p.Items), func(it Item) bool { return it.UID == uid })
	chain := slices.DeleteFunc(slices.Clone(p.Chain), func(c string) bool { return c == uid })
	patch := Builder{Items: &items, Chain: &chain}
	if p.Current == uid {
		patch.Current = ptr("")
	}
	return patch
}

func ptr[T any](v T) *T { return &v }
