// Package validate turns raw strings scraped from a detail page into typed values.
//
// Every function is pure and synchronous. A rejected value comes back as a *failure.Failure of kind
// validation that names the field and echoes the raw input. The accepted formats are exactly what the
// site renders today; variants (full-width tildes, other separators) are rejected, not normalized.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

// Field names used in validation failures.
const (
	FieldJobNumber      = "jobNumber"
	FieldCompanyName    = "companyName"
	FieldReceivedDate   = "receivedDate"
	FieldExpiryDate     = "expiryDate"
	FieldHomePage       = "homePage"
	FieldOccupation     = "occupation"
	FieldEmploymentType = "employmentType"
	FieldWage           = "wage"
	FieldWorkingHours   = "workingHours"
	FieldEmployeeCount  = "employeeCount"
	FieldWorkPlace      = "workPlace"
	FieldDescription    = "jobDescription"
	FieldQualifications = "qualifications"
)

var (
	datePattern         = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日$`)
	wagePattern         = regexp.MustCompile(`^(\d{1,3}(?:,\d{3})*)円〜(\d{1,3}(?:,\d{3})*)円$`)
	workingHoursPattern = regexp.MustCompile(`^(\d{1,2})時(\d{1,2})分〜(\d{1,2})時(\d{1,2})分$`)
	digitRunPattern     = regexp.MustCompile(`\d+`)
)

// Tokyo is the zone the site's calendar dates are expressed in.
var Tokyo = time.FixedZone("JST", 9*60*60)

// WageRange is a parsed monthly wage band.
type WageRange struct {
	Min int
	Max int
}

// Hours is a parsed working-time window.
type Hours struct {
	Start string
	End   string
}

func invalid(field, raw, reason string, cause error) *failure.Failure {
	opts := []failure.Option{failure.WithField(field), failure.WithRaw(raw)}
	if cause != nil {
		opts = append(opts, failure.WithCause(cause))
	}
	return failure.New(failure.KindValidation, "validate", reason, opts...)
}

// Date parses "2024年5月1日" into midnight of that day in Tokyo. Dates that do not exist on the calendar
// (2月30日, 13月1日) are rejected rather than rolled over.
func Date(field, raw string) (time.Time, error) {
	m := datePattern.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, invalid(field, raw, "date does not match YYYY年M月D日", nil)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, Tokyo)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, invalid(field, raw, "date is not a valid calendar day", nil)
	}
	return t, nil
}

// Wage parses "200,000円〜300,000円" and verifies the bounds are ordered.
func Wage(raw string) (WageRange, error) {
	m := wagePattern.FindStringSubmatch(raw)
	if m == nil {
		return WageRange{}, invalid(FieldWage, raw, "wage does not match A円〜B円", nil)
	}
	lo, err := parseGrouped(m[1])
	if err != nil {
		return WageRange{}, invalid(FieldWage, raw, "wage lower bound is not an integer", err)
	}
	hi, err := parseGrouped(m[2])
	if err != nil {
		return WageRange{}, invalid(FieldWage, raw, "wage upper bound is not an integer", err)
	}
	if lo > hi {
		return WageRange{}, invalid(FieldWage, raw, fmt.Sprintf("wage minimum %d exceeds maximum %d", lo, hi), nil)
	}
	return WageRange{Min: lo, Max: hi}, nil
}

func parseGrouped(s string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return n, nil
}

// WorkingHours parses "9時00分〜18時00分" into zero-padded "09:00:00" and "18:00:00".
func WorkingHours(raw string) (Hours, error) {
	m := workingHoursPattern.FindStringSubmatch(raw)
	if m == nil {
		return Hours{}, invalid(FieldWorkingHours, raw, "working hours do not match H時M分〜H時M分", nil)
	}
	start, ok := clock(m[1], m[2])
	if !ok {
		return Hours{}, invalid(FieldWorkingHours, raw, "start time is not a time of day", nil)
	}
	end, ok := clock(m[3], m[4])
	if !ok {
		return Hours{}, invalid(FieldWorkingHours, raw, "end time is not a time of day", nil)
	}
	return Hours{Start: start, End: end}, nil
}

// clock formats hour and minute as HH:MM:00 and reports false outside 00:00 to 23:59.
func clock(hour, minute string) (string, bool) {
	h, _ := strconv.Atoi(hour)
	mi, _ := strconv.Atoi(minute)
	if h > 23 || mi > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d:00", h, mi), true
}

// EmployeeCount returns the first run of digits in raw ("150人" → 150).
func EmployeeCount(raw string) (int, error) {
	run := digitRunPattern.FindString(raw)
	if run == "" {
		return 0, invalid(FieldEmployeeCount, raw, "employee count contains no digits", nil)
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return 0, invalid(FieldEmployeeCount, raw, "employee count is out of range", err)
	}
	return n, nil
}

// HomePage requires an absolute URL after trimming.
func HomePage(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", invalid(FieldHomePage, raw, "homepage is not a URL", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", invalid(FieldHomePage, raw, "homepage is not an absolute URL", nil)
	}
	return trimmed, nil
}

// EmploymentType accepts only the four literal labels.
func EmploymentType(raw string) (job.EmploymentType, error) {
	for _, known := range job.EmploymentTypes {
		if raw == string(known) {
			return known, nil
		}
	}
	return "", invalid(FieldEmploymentType, raw, "unknown employment type", nil)
}

// Text trims a required free-text field and rejects it when empty.
func Text(field, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", invalid(field, raw, "required text is empty", nil)
	}
	return trimmed, nil
}

// JobNumber parses the job number printed on the page and checks it matches the one requested.
func JobNumber(raw string, expected job.Number) (job.Number, error) {
	n, err := job.ParseNumber(raw)
	if err != nil {
		return "", invalid(FieldJobNumber, raw, "job number is malformed", err)
	}
	if expected != "" && n != expected {
		return "", invalid(FieldJobNumber, raw, fmt.Sprintf("page shows job %s, expected %s", n, expected), nil)
	}
	return n, nil
}
