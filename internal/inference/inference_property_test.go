package inference

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"dynamic-table/internal/model"
)

func column(values []string) [][]string {
	rows := make([][]string, len(values))
	for i, v := range values {
		rows[i] = []string{v}
	}
	return rows
}

func TestProperty_DigitColumnsAreInteger(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("columns of ^\\d+$ values infer INTEGER", prop.ForAll(
		func(values []string) bool {
			return Infer([]string{"c"}, column(values))["c"] == model.ColumnInteger
		},
		gen.SliceOfN(8, gen.NumString().Map(func(s string) string { return "1" + s })),
	))

	properties.TestingRun(t)
}

func TestProperty_SingleRepeatedWordIsText(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one repeated non-numeric value infers TEXT", prop.ForAll(
		func(word string, n int) bool {
			values := make([]string, n)
			for i := range values {
				values[i] = word
			}
			return Infer([]string{"c"}, column(values))["c"] == model.ColumnText
		},
		gen.AlphaString().Map(func(s string) string { return "w" + s }),
		gen.IntRange(1, 20),
	))

	properties.Property("one repeated decimal infers TEXT", prop.ForAll(
		func(whole, frac int, n int) bool {
			v := strconv.Itoa(whole) + "." + strconv.Itoa(frac)
			values := make([]string, n)
			for i := range values {
				values[i] = v
			}
			return Infer([]string{"c"}, column(values))["c"] == model.ColumnText
		},
		gen.IntRange(0, 100000),
		gen.IntRange(0, 999),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

func TestProperty_InferenceIsPure(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("same input gives same output", prop.ForAll(
		func(values []string) bool {
			first := Infer([]string{"c"}, column(values))
			second := Infer([]string{"c"}, column(values))
			return first["c"] == second["c"] && first["c"].Valid()
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
