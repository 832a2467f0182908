// Package job defines the domain types shared across the crawler: job numbers, scraped raw fields,
// the normalized record loaded into the job store, and the queue payload.
package job

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var numberPattern = regexp.MustCompile(`^\d{5}-\d{0,8}$`)

// Number is the natural key of a job posting, e.g. "13010-00000001".
type Number string

// ParseNumber validates s as a job number. Surrounding whitespace is ignored.
func ParseNumber(s string) (Number, error) {
	trimmed := strings.TrimSpace(s)
	if !numberPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid job number %q", s)
	}
	return Number(trimmed), nil
}

// Prefix returns the five-digit office part before the hyphen.
func (n Number) Prefix() string {
	prefix, _, _ := strings.Cut(string(n), "-")
	return prefix
}

// Serial returns the part after the hyphen.
func (n Number) Serial() string {
	_, serial, _ := strings.Cut(string(n), "-")
	return serial
}

func (n Number) String() string { return string(n) }

// EmploymentType is one of the four labels the site uses.
type EmploymentType string

// Known employment types, matched literally.
const (
	EmploymentFullTime      EmploymentType = "正社員"
	EmploymentNonFullTime   EmploymentType = "正社員以外"
	EmploymentPartTime      EmploymentType = "パート労働者"
	EmploymentFixedDispatch EmploymentType = "有期雇用派遣労働者"
)

// EmploymentTypes lists every accepted label.
var EmploymentTypes = []EmploymentType{
	EmploymentFullTime,
	EmploymentNonFullTime,
	EmploymentPartTime,
	EmploymentFixedDispatch,
}

// RawFields holds the untyped strings scraped from a detail page. A nil pointer means the page did not
// render the element at all.
type RawFields struct {
	JobNumber      *string
	CompanyName    *string
	ReceivedDate   *string
	ExpiryDate     *string
	HomePage       *string
	Occupation     *string
	EmploymentType *string
	Wage           *string
	WorkingHours   *string
	EmployeeCount  *string
	WorkPlace      *string
	Description    *string
	Qualifications *string
}

// Normalized is the validated, typed job record.
type Normalized struct {
	JobNumber        Number         `json:"jobNumber"`
	CompanyName      string         `json:"companyName"`
	ReceivedDate     time.Time      `json:"receivedDate"`
	ExpiryDate       time.Time      `json:"expiryDate"`
	HomePage         *string        `json:"homePage"`
	Occupation       string         `json:"occupation"`
	EmploymentType   EmploymentType `json:"employmentType"`
	WageMin          int            `json:"wageMin"`
	WageMax          int            `json:"wageMax"`
	WorkingStartTime string         `json:"workingStartTime"`
	WorkingEndTime   string         `json:"workingEndTime"`
	EmployeeCount    int            `json:"employeeCount"`
	WorkPlace        string         `json:"workPlace"`
	JobDescription   string         `json:"jobDescription"`
	Qualifications   *string        `json:"qualifications"`
}

// QueueMessage is the only payload crossing the extract stage's queue boundary.
type QueueMessage struct {
	JobNumber Number `json:"jobNumber"`
}

// Encode renders the message body.
func (m QueueMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	return data, nil
}

// DecodeQueueMessage parses and validates a message body.
func DecodeQueueMessage(body []byte) (QueueMessage, error) {
	var raw struct {
		JobNumber string `json:"jobNumber"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return QueueMessage{}, fmt.Errorf("decode queue message: %w", err)
	}
	number, err := ParseNumber(raw.JobNumber)
	if err != nil {
		return QueueMessage{}, fmt.Errorf("decode queue message: %w", err)
	}
	return QueueMessage{JobNumber: number}, nil
}

// Period limits a criteria search to recently received postings.
type Period string

// Supported periods.
const (
	PeriodAll         Period = "all"
	PeriodToday       Period = "today"
	PeriodWithin3Days Period = "within3days"
	PeriodWithin7Days Period = "within7days"
)

// Criteria drives the multi-field search form.
type Criteria struct {
	Prefecture     string         `mapstructure:"prefecture"`
	Occupation     string         `mapstructure:"occupation"`
	EmploymentType EmploymentType `mapstructure:"employment_type"`
	Period         Period         `mapstructure:"period"`
}
