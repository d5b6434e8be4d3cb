// Package rdtcli holds small pieces shared by the rdt-server and
// rdt-client binaries that don't belong in the protocol library itself.
package rdtcli

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"rdt-go/pkg/rdt"
)

// VariantValue adapts rdt.Variant to pflag.Value so --variant is parsed
// and validated at flag-parse time instead of after Execute runs.
type VariantValue struct {
	Variant rdt.Variant
}

var _ pflag.Value = (*VariantValue)(nil)

// NewVariantValue returns a VariantValue defaulting to def.
func NewVariantValue(def rdt.Variant) *VariantValue {
	return &VariantValue{Variant: def}
}

func (v *VariantValue) String() string {
	return v.Variant.String()
}

func (v *VariantValue) Set(s string) error {
	switch s {
	case "gbn":
		v.Variant = rdt.GoBackN
	case "sr":
		v.Variant = rdt.SelectiveRepeat
	default:
		return errors.Errorf("unknown variant %q (want gbn or sr)", s)
	}
	return nil
}

func (v *VariantValue) Type() string { return "variant" }
