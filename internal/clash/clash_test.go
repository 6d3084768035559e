package clash

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/papapumpkin/corona/internal/field"
)

func TestBuildValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		patch   map[string]string
		wantErr error
	}{
		{name: "defaults", patch: nil},
		{name: "mixed port change", patch: map[string]string{"mixed-port": "7890"}},
		{name: "extra listeners", patch: map[string]string{"socks-port": "7891", "port": "7892"}},
		{name: "mixed port zero", patch: map[string]string{"mixed-port": "0"}, wantErr: ErrPortRange},
		{name: "port too large", patch: map[string]string{"port": "70000"}, wantErr: ErrPortRange},
		{name: "conflict", patch: map[string]string{"socks-port": "7897"}, wantErr: ErrPortConflict},
		{name: "bad mode", patch: map[string]string{"mode": "script"}, wantErr: ErrInvalidValue},
		{name: "bad log level", patch: map[string]string{"log-level": "verbose"}, wantErr: ErrInvalidValue},
		{name: "bad controller", patch: map[string]string{"external-controller": "localhost"}, wantErr: ErrInvalidValue},
		{name: "controller port zero", patch: map[string]string{"external-controller": "127.0.0.1:0"}, wantErr: ErrInvalidValue},
		{name: "controller disabled", patch: map[string]string{"external-controller": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := Defaults()
			for k, v := range tt.patch {
				p, err := Patch(k, v)
				if err != nil {
					t.Fatalf("Patch(%s, %s): %v", k, v, err)
				}
				b = b.Merge(p)
			}
			_, err := b.Build()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Build: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestToMappingCoversHandleFields(t *testing.T) {
	t.Parallel()

	c, err := Builder{}.Build()
	if err != nil {
		t.Fatal(err)
	}
	m := c.ToMapping()

	if diff := cmp.Diff(field.NewFieldSet(field.HandleFields...).Names(), field.NewFieldSet(Keys()...).Names(), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("Keys differ from handle fields (-handle +keys):\n%s", diff)
	}
	for _, k := range field.HandleFields {
		if !m.Has(k) {
			t.Errorf("ToMapping missing handle field %q", k)
		}
	}
	if m["mixed-port"] != 7897 || m["mode"] != "rule" {
		t.Errorf("ToMapping defaults = %v", m)
	}
}

func TestPatchErrors(t *testing.T) {
	t.Parallel()

	if _, err := Patch("dns", "x"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Patch(dns) error = %v, want ErrUnknownKey", err)
	}
	if _, err := Patch("mixed-port", "seven"); err == nil {
		t.Error("Patch(mixed-port=seven) returned nil error")
	}
	if _, err := Patch("allow-lan", "yes please"); err == nil {
		t.Error("Patch(allow-lan=yes please) returned nil error")
	}
}
