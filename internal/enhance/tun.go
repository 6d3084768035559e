package enhance

import (
	"github.com/papapumpkin/corona/internal/engine"
	"github.com/papapumpkin/corona/internal/mapping"
)

// TunOptions selects the TUN settings DeriveTunDNS produces.
type TunOptions struct {
	Enabled bool
	Stack   engine.TunStack
	Variant engine.Variant
	Windows bool // add the Windows connectivity-check fake-ip filter
}

const (
	clashRsDeviceID = "dev://utun1989"
	fakeIPRange     = "198.18.0.1/16"
)

func defaultNameservers() []any {
	return []any{"114.114.114.114", "223.5.5.5", "8.8.8.8"}
}

func windowsFakeIPFilter() []any {
	return []any{"dns.msftncsi.com", "www.msftncsi.com", "www.msftconnecttest.com"}
}

// DeriveTunDNS returns config with the tun section reconciled to opts. When
// TUN is disabled and config has no tun section, config is returned as is.
// Otherwise tun.enable follows opts, and when enabling, missing TUN keys and
// the DNS section are filled with defaults. Keys already present are kept.
func DeriveTunDNS(config mapping.Mapping, opts TunOptions) mapping.Mapping {
	if _, ok := config["tun"]; !ok && !opts.Enabled {
		return config
	}

	out := config.Clone()
	tun, ok := out.Section("tun")
	if !ok {
		tun = mapping.Mapping{}
	}
	tun["enable"] = opts.Enabled

	if opts.Enabled {
		if opts.Variant.IsClashRs() {
			tun.SetDefault("device-id", clashRsDeviceID)
			tun.SetDefault("auto-route", true)
		} else {
			stack := opts.Stack
			if stack == "" || !opts.Variant.Supports(stack) {
				stack = engine.StackGvisor
			}
			tun.SetDefault("stack", string(stack))
			tun.SetDefault("dns-hijack", []any{"any:53"})
			tun.SetDefault("auto-route", true)
			tun.SetDefault("auto-detect-interface", true)
		}
	}
	out["tun"] = map[string]any(tun)

	if !opts.Enabled {
		return out
	}

	dns, ok := out.Section("dns")
	if !ok {
		dns = mapping.Mapping{}
	}
	dns["enable"] = true
	dns.SetDefault("enhanced-mode", "fake-ip")
	dns.SetDefault("fake-ip-range", fakeIPRange)
	dns.SetDefault("nameserver", defaultNameservers())
	dns.SetDefault("fallback", []any{})
	if opts.Windows {
		dns.SetDefault("fake-ip-filter", windowsFakeIPFilter())
	}
	out["dns"] = map[string]any(dns)
	return out
}
