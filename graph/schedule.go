package graph

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/robfig/cron"
)

type ScheduleForm int

const (
	// FormRate is rate(N unit).
	FormRate ScheduleForm = 1
	// FormPlatformCron is the 6-field cron(...) form, kept as written.
	FormPlatformCron ScheduleForm = 2
	// FormCron is a standard 5-field cron line.
	FormCron ScheduleForm = 3
	// FormEvery is "@every <duration>".
	FormEvery ScheduleForm = 4
	// FormDescriptor is @hourly, @daily and friends.
	FormDescriptor ScheduleForm = 5
)

type Schedule struct {
	Form ScheduleForm
	Expr string

	RateValue int
	RateUnit  string
	Every     time.Duration
	// Fields holds the 5 (FormCron) or 6 (FormPlatformCron) cron fields.
	Fields []string
}

var (
	rateRegexp         = regexp.MustCompile(`^rate\((\d+)\s+(minute|minutes|hour|hours|day|days)\)$`)
	platformCronRegexp = regexp.MustCompile(`^cron\((.+)\)$`)

	descriptors = map[string]bool{
		"@yearly":   true,
		"@annually": true,
		"@monthly":  true,
		"@weekly":   true,
		"@daily":    true,
		"@midnight": true,
		"@hourly":   true,
	}
)

// ParseSchedule checks the syntax of a schedule trigger expression.
func ParseSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.NotValidf("empty schedule")
	}

	if m := rateRegexp.FindStringSubmatch(expr); m != nil {
		value, err := strconv.Atoi(m[1])
		if err != nil || value < 1 {
			return nil, errors.NotValidf("rate value %q", m[1])
		}
		unit := m[2]
		// a value of 1 takes the singular unit and any other value the plural
		if (value == 1) == strings.HasSuffix(unit, "s") {
			return nil, errors.NotValidf("rate unit %q for value %d", unit, value)
		}
		return &Schedule{Form: FormRate, Expr: expr, RateValue: value, RateUnit: strings.TrimSuffix(unit, "s")}, nil
	}

	if m := platformCronRegexp.FindStringSubmatch(expr); m != nil {
		fields := strings.Fields(m[1])
		if len(fields) != 6 {
			return nil, errors.NotValidf("cron(...) needs 6 fields, got %d", len(fields))
		}
		if err := checkPlatformCron(fields); err != nil {
			return nil, errors.Annotatef(err, "%s", expr)
		}
		return &Schedule{Form: FormPlatformCron, Expr: expr, Fields: fields}, nil
	}

	if strings.HasPrefix(expr, "@every ") {
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, errors.NotValidf("%s: %v", expr, err)
		}
		every, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return nil, errors.NotValidf("%s", expr)
		}
		return &Schedule{Form: FormEvery, Expr: expr, Every: every.Delay}, nil
	}

	if strings.HasPrefix(expr, "@") {
		if !descriptors[expr] {
			return nil, errors.NotValidf("descriptor %s", expr)
		}
		return &Schedule{Form: FormDescriptor, Expr: expr}, nil
	}

	if _, err := cron.ParseStandard(expr); err != nil {
		return nil, errors.NotValidf("cron %q: %v", expr, err)
	}
	return &Schedule{Form: FormCron, Expr: expr, Fields: strings.Fields(expr)}, nil
}

type cronField struct {
	name     string
	min, max int
	names    map[string]int
	// question allows "?", which day-of-month and day-of-week take
	question bool
}

var (
	monthNames = map[string]int{
		"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
		"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
	}
	// day-of-week counts from SUN=1 in the cron(...) form
	weekdayNames = map[string]int{
		"SUN": 1, "MON": 2, "TUE": 3, "WED": 4, "THU": 5, "FRI": 6, "SAT": 7,
	}

	platformCronFields = [6]cronField{
		{name: "minutes", min: 0, max: 59},
		{name: "hours", min: 0, max: 23},
		{name: "day-of-month", min: 1, max: 31, question: true},
		{name: "month", min: 1, max: 12, names: monthNames},
		{name: "day-of-week", min: 1, max: 7, names: weekdayNames, question: true},
		{name: "year", min: 1970, max: 2199},
	}

	lastWeekdayRegexp = regexp.MustCompile(`^(\d{1,2})W$`)
	nthWeekdayRegexp  = regexp.MustCompile(`^([A-Z]{3}|\d)#([1-5])$`)
	lastWeekRegexp    = regexp.MustCompile(`^([A-Z]{3}|\d)L$`)
)

/**
 * checkPlatformCron validates the fields of cron(minutes hours dom month dow year).
 * Exactly one of day-of-month and day-of-week must be "?". Minutes, hours and
 * month share their grammar with standard cron and also go through the cron parser.
 */
func checkPlatformCron(fields []string) error {
	for i, value := range fields {
		if err := checkCronField(platformCronFields[i], strings.ToUpper(value)); err != nil {
			return errors.Trace(err)
		}
	}
	if (fields[2] == "?") == (fields[4] == "?") {
		return errors.NotValidf("exactly one of day-of-month and day-of-week must be ?")
	}
	if _, err := cron.ParseStandard(fields[0] + " " + fields[1] + " * " + fields[3] + " *"); err != nil {
		return errors.NotValidf("%v", err)
	}
	return nil
}

func checkCronField(f cronField, value string) error {
	if value == "?" {
		if !f.question {
			return errors.NotValidf("? in %s", f.name)
		}
		return nil
	}

	for _, part := range strings.Split(value, ",") {
		switch {
		case part == "":
			return errors.NotValidf("empty list item in %s", f.name)
		case f.name == "day-of-month" && (part == "L" || part == "LW"):
			continue
		case f.name == "day-of-month" && lastWeekdayRegexp.MatchString(part):
			part = lastWeekdayRegexp.FindStringSubmatch(part)[1]
		case f.name == "day-of-week" && part == "L":
			continue
		case f.name == "day-of-week" && nthWeekdayRegexp.MatchString(part):
			part = nthWeekdayRegexp.FindStringSubmatch(part)[1]
		case f.name == "day-of-week" && lastWeekRegexp.MatchString(part):
			part = lastWeekRegexp.FindStringSubmatch(part)[1]
		}

		base, step, stepped := strings.Cut(part, "/")
		if stepped {
			n, err := strconv.Atoi(step)
			if err != nil || n < 1 || n > f.max {
				return errors.NotValidf("step %q in %s", step, f.name)
			}
		}
		if base == "*" {
			continue
		}
		lo, hi, ranged := strings.Cut(base, "-")
		from, err := f.value(lo)
		if err != nil {
			return errors.Trace(err)
		}
		if ranged {
			to, err := f.value(hi)
			if err != nil {
				return errors.Trace(err)
			}
			if to < from {
				return errors.NotValidf("range %s in %s", base, f.name)
			}
		}
	}
	return nil
}

func (f cronField) value(s string) (int, error) {
	if n, ok := f.names[s]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < f.min || n > f.max {
		return 0, errors.NotValidf("%q in %s (%d-%d)", s, f.name, f.min, f.max)
	}
	return n, nil
}
