package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// switchTargetMapper creates a Kong mapper for SwitchTarget.
func switchTargetMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("target", &s); err != nil {
			return err
		}
		t, err := ParseSwitchTarget(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(t))
		return nil
	}
}
