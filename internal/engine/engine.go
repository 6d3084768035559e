// Package engine names the proxy-engine variants corona can generate
// configuration for, and the TUN stacks they accept.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownVariant indicates a variant name that corona does not know about.
var ErrUnknownVariant = errors.New("unknown engine variant")

// ErrUnknownStack indicates a TUN stack name that corona does not know about.
var ErrUnknownStack = errors.New("unknown tun stack")

// Variant identifies a proxy-engine family. Built-in corrections and TUN
// defaults differ per variant.
type Variant string

const (
	Clash        Variant = "clash"          // Clash Premium
	ClashRs      Variant = "clash-rs"       // clash-rs
	ClashRsAlpha Variant = "clash-rs-alpha" // clash-rs nightly builds
	Mihomo       Variant = "mihomo"         // mihomo (Clash.Meta)
	MihomoAlpha  Variant = "mihomo-alpha"   // mihomo prerelease builds
)

// Variants lists every known variant in display order.
var Variants = []Variant{Mihomo, MihomoAlpha, Clash, ClashRs, ClashRsAlpha}

// ParseVariant converts a user-supplied name into a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Variants {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// IsMihomo reports whether v belongs to the mihomo family.
func (v Variant) IsMihomo() bool {
	return v == Mihomo || v == MihomoAlpha
}

// IsClashRs reports whether v belongs to the clash-rs family.
func (v Variant) IsClashRs() bool {
	return v == ClashRs || v == ClashRsAlpha
}

// TunStack is the network stack used by the engine's TUN device.
type TunStack string

// Known TUN stacks.
const (
	StackSystem TunStack = "system"
	StackGvisor TunStack = "gvisor"
	StackMixed  TunStack = "mixed"
)

// ParseTunStack converts a user-supplied name into a TunStack.
func ParseTunStack(s string) (TunStack, error) {
	switch st := TunStack(strings.ToLower(strings.TrimSpace(s))); st {
	case StackSystem, StackGvisor, StackMixed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStack, s)
}

// Supports reports whether the variant can run the given stack. Clash
// Premium predates the mixed stack.
func (v Variant) Supports(stack TunStack) bool {
	if v == Clash && stack == StackMixed {
		return false
	}
	return true
}
