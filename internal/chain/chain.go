// Package chain defines the transformations applied, in order, on top of a
// base profile: config merges and scripts, the diagnostic logs they produce,
// and the built-in corrections corona ships with.
package chain

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/papapumpkin/corona/internal/mapping"
)

// ScriptKind identifies the language of a script item.
type ScriptKind string

// Script languages.
const (
	JavaScript ScriptKind = "javascript"
	Lua        ScriptKind = "lua"
)

// KindOf infers the script language from a file name.
func KindOf(path string) (ScriptKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return JavaScript, nil
	case ".lua":
		return Lua, nil
	}
	return "", fmt.Errorf("chain: no script kind for %s", filepath.Base(path))
}

// Script is the source of a script transformation.
type Script struct {
	Kind   ScriptKind
	Source string
}

// Item is one step of a chain. Exactly one of Merge, Script or Err is set:
// Merge for a config patch, Script for a script, Err when the item could not
// be resolved.
type Item struct {
	UID    string
	Merge  mapping.Mapping
	Script *Script
	Err    error
}

// MergeItem returns a merge step.
func MergeItem(uid string, patch mapping.Mapping) Item {
	if patch == nil {
		patch = mapping.Mapping{}
	}
	return Item{UID: uid, Merge: patch}
}

// ScriptItem returns a script step.
func ScriptItem(uid string, kind ScriptKind, source string) Item {
	return Item{UID: uid, Script: &Script{Kind: kind, Source: source}}
}

// FailedItem returns a step that could not be resolved. Running it only
// records err under uid.
func FailedItem(uid string, err error) Item {
	return Item{UID: uid, Err: err}
}

// IsScript reports whether the item is a script step.
func (it Item) IsScript() bool { return it.Err == nil && it.Script != nil }

// IsMerge reports whether the item is a merge step.
func (it Item) IsMerge() bool { return it.Err == nil && it.Script == nil }

// ProfileName is the name of the profile a chain runs for. Pipelines store
// it with scope.Run so script runners can pass it to scripts.
type ProfileName string
