//go:build property
// +build property

package kernel_test

import (
	"strconv"
	"testing"

	"github.com/Mindburn-Labs/weave/pkg/kernel"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: ArToWinston(WinstonToAr(w)) == w for whole winston amounts.
func TestWinstonRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("winston survives AR conversion", prop.ForAll(
		func(w int64) bool {
			in := strconv.FormatInt(w, 10)
			ar, err := kernel.WinstonToAr(in, kernel.WinstonDecimals, false)
			if err != nil {
				return false
			}
			back, err := kernel.ArToWinston(ar, false)
			return err == nil && back == in
		},
		gen.Int64Range(0, 1<<62),
	))

	properties.Property("add then sub is identity", prop.ForAll(
		func(a, b int64) bool {
			x, y := strconv.FormatInt(a, 10), strconv.FormatInt(b, 10)
			sum, err := kernel.AddUnits(x, y)
			if err != nil {
				return false
			}
			back, err := kernel.SubUnits(sum, y)
			return err == nil && back == x
		},
		gen.Int64Range(-1<<40, 1<<40),
		gen.Int64Range(-1<<40, 1<<40),
	))

	properties.Property("xorshift sequences agree across instances", prop.ForAll(
		func(n int) bool {
			a, b := kernel.NewXorShift128Plus(), kernel.NewXorShift128Plus()
			for i := 0; i < n; i++ {
				if a.Float64() != b.Float64() {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
