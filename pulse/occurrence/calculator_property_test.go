package occurrence

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// genInstant yields instants spread over roughly ten years, minute resolution
func genInstant() gopter.Gen {
	return gen.IntRange(0, 10*366*24*60).Map(func(m int) time.Time {
		return propertyEpoch.Add(time.Duration(m) * time.Minute)
	})
}

func genRule() gopter.Gen {
	return gen.IntRange(0, 8).FlatMap(func(v interface{}) gopter.Gen {
		switch i := v.(int); {
		case i < 6:
			simple := []Frequency{Daily, Weekly, BiWeekly, Monthly, Quarterly, Yearly}[i]
			return gen.IntRange(0, 23).Map(func(h int) Rule {
				if h%3 == 0 {
					return SimpleRule{Every: simple}
				}
				return SimpleRule{Every: simple, Times: []string{WallTime{Hour: h, Minute: 15}.String()}}
			})
		case i < 8:
			return gopter.CombineGens(gen.IntRange(1, 24), gen.IntRange(0, 12), gen.IntRange(13, 24)).
				Map(func(vals []interface{}) Rule {
					w := Window{StartHour: vals[1].(int), EndHour: vals[2].(int)}
					return HourlyRule{Interval: vals[0].(int), Window: &w}
				})
		default:
			return gen.SliceOfN(3, gen.IntRange(0, 23)).Map(func(hs []int) Rule {
				times := make([]string, len(hs))
				for j, h := range hs {
					times[j] = WallTime{Hour: h, Minute: 30}.String()
				}
				return CustomRule{Times: times}
			})
		}
	}, reflect.TypeOf((*Rule)(nil)).Elem())
}

// genExclusions yields exclusion sets that always leave an allowed slot
func genExclusions() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOfN(3, gen.IntRange(0, 6)),
		gen.SliceOfN(6, gen.IntRange(0, 23)),
		gen.Bool(),
		gen.IntRange(0, 3650),
	).Map(func(vals []interface{}) Exclusions {
		var ex Exclusions
		for _, d := range vals[0].([]int) {
			ex.Weekdays = append(ex.Weekdays, time.Weekday(d))
		}
		ex.Hours = vals[1].([]int)
		ex.SkipWeekends = vals[2].(bool)
		ex.Dates = []string{propertyEpoch.AddDate(0, 0, vals[3].(int)).Format(DateLayout)}
		return ex
	})
}

func TestNextProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("result satisfies every exclusion", prop.ForAll(
		func(ref time.Time, rule Rule, ex Exclusions) bool {
			if Validate(rule, ex) != nil {
				return true
			}
			next, err := Next(ref, rule, ex)
			return err == nil && ex.Allows(next)
		},
		genInstant(), genRule(), genExclusions(),
	))

	properties.Property("result is strictly after the reference", prop.ForAll(
		func(ref time.Time, rule Rule, ex Exclusions) bool {
			if Validate(rule, ex) != nil {
				return true
			}
			next, err := Next(ref, rule, ex)
			return err == nil && next.After(ref)
		},
		genInstant(), genRule(), genExclusions(),
	))

	properties.Property("deterministic for identical inputs", prop.ForAll(
		func(ref time.Time, rule Rule, ex Exclusions) bool {
			a, errA := Next(ref, rule, ex)
			b, errB := Next(ref, rule, ex)
			return a.Equal(b) && (errA == nil) == (errB == nil)
		},
		genInstant(), genRule(), genExclusions(),
	))

	properties.Property("chained occurrences strictly increase", prop.ForAll(
		func(ref time.Time, rule Rule) bool {
			cur := ref
			for i := 0; i < 5; i++ {
				next, err := Next(cur, rule, Exclusions{})
				if err != nil || !next.After(cur) {
					return false
				}
				cur = next
			}
			return true
		},
		genInstant(), genRule(),
	))

	properties.TestingRun(t)
}
