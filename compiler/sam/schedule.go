package sam

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/graph"
)

var descriptorCron = map[string]string{
	"@yearly":   "cron(0 0 1 1 ? *)",
	"@annually": "cron(0 0 1 1 ? *)",
	"@monthly":  "cron(0 0 1 * ? *)",
	"@weekly":   "cron(0 0 ? * 1 *)",
	"@daily":    "cron(0 0 * * ? *)",
	"@midnight": "cron(0 0 * * ? *)",
	"@hourly":   "cron(0 * * * ? *)",
}

var weekdays = map[string]bool{"SUN": true, "MON": true, "TUE": true, "WED": true, "THU": true, "FRI": true, "SAT": true}

// ScheduleExpression converts a schedule trigger into an EventBridge
// schedule expression. rate() and cron() are passed through as written.
func ScheduleExpression(expr string) (string, error) {
	s, err := graph.ParseSchedule(expr)
	if err != nil {
		return "", errors.Trace(err)
	}
	switch s.Form {
	case graph.FormRate, graph.FormPlatformCron:
		return s.Expr, nil
	case graph.FormEvery:
		return everyToRate(s.Every)
	case graph.FormDescriptor:
		return descriptorCron[s.Expr], nil
	case graph.FormCron:
		return standardToCron(s.Fields)
	}
	return "", errors.NotSupportedf("schedule %q", expr)
}

func everyToRate(d time.Duration) (string, error) {
	if d < time.Minute {
		return "", errors.NotSupportedf("interval %s below one minute", d)
	}
	if d%time.Minute != 0 {
		return "", errors.NotSupportedf("interval %s is not a whole number of minutes", d)
	}
	minutes := int(d / time.Minute)
	value, unit := minutes, "minute"
	switch {
	case minutes%(24*60) == 0:
		value, unit = minutes/(24*60), "day"
	case minutes%60 == 0:
		value, unit = minutes/60, "hour"
	}
	if value != 1 {
		unit += "s"
	}
	return fmt.Sprintf("rate(%d %s)", value, unit), nil
}

// standardToCron maps "min hour dom month dow" to the 6-field form, where
// one of the day fields must be "?" and Sunday is 1.
func standardToCron(fields []string) (string, error) {
	if len(fields) != 5 {
		return "", errors.NotValidf("cron needs 5 fields, got %d", len(fields))
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case dow == "*" || dow == "?":
		dow = "?"
	case dom == "*" || dom == "?":
		dom = "?"
		var err error
		if dow, err = convertWeekdays(dow); err != nil {
			return "", errors.Trace(err)
		}
	default:
		return "", errors.NotSupportedf("cron %q restricts both day of month and day of week", strings.Join(fields, " "))
	}

	return fmt.Sprintf("cron(%s %s %s %s %s *)",
		fixStep(minute, "0"), fixStep(hour, "0"), fixStep(dom, "1"), fixStep(month, "1"), dow), nil
}

// fixStep rewrites "*/n" as "<first>/n".
func fixStep(field, first string) string {
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		return first + "/" + rest
	}
	return field
}

func convertWeekdays(field string) (string, error) {
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		base, step, hasStep := strings.Cut(part, "/")
		if base == "*" {
			out = append(out, fixStep(part, "1"))
			continue
		}

		lo, hi, isRange := strings.Cut(base, "-")
		l, err := weekday(lo)
		if err != nil {
			return "", err
		}
		converted := l
		if isRange {
			h, err := weekday(hi)
			if err != nil {
				return "", err
			}
			ln, lerr := strconv.Atoi(l)
			hn, herr := strconv.Atoi(h)
			if lerr == nil && herr == nil && ln > hn {
				// the range ran up to Sunday, which now comes first
				if hasStep {
					return "", errors.NotSupportedf("day of week %q", part)
				}
				out = append(out, l+"-7", h)
				continue
			}
			converted = l + "-" + h
		}
		if hasStep {
			converted += "/" + step
		}
		out = append(out, converted)
	}
	return strings.Join(out, ","), nil
}

func weekday(s string) (string, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 7 {
			return "", errors.NotValidf("day of week %d", n)
		}
		return strconv.Itoa(n%7 + 1), nil
	}
	name := strings.ToUpper(s)
	if !weekdays[name] {
		return "", errors.NotValidf("day of week %q", s)
	}
	return name, nil
}
