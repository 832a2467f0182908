// Package extract reads the fields of a job detail screen and normalizes them into a job.Normalized.
//
// Extraction works against any Source: the live page.DetailPage while the browser is open, or a
// Document parsed from captured HTML once it is closed. Both read the same field table, so the two
// paths cannot drift apart.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/hellowork-crawler/internal/browser"
	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
	"github.com/JakeFAU/hellowork-crawler/internal/validate"
)

// Source is a read-only view of a detail screen.
type Source interface {
	Text(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	URL(ctx context.Context) (string, error)
}

var (
	_ Source = page.DetailPage{}
	_ Source = (*Document)(nil)
)

// Field locates one value on the detail screen.
type Field struct {
	Name     string
	Selector string
	// Optional fields are probed first; a missing element yields nil rather than a failure.
	Optional bool
	set      func(*job.RawFields, *string)
}

// Fields is the detail screen layout, in extraction order.
var Fields = []Field{
	{Name: validate.FieldJobNumber, Selector: "#ID_kjNo", set: func(r *job.RawFields, v *string) { r.JobNumber = v }},
	{Name: validate.FieldCompanyName, Selector: "#ID_jgshMei", set: func(r *job.RawFields, v *string) { r.CompanyName = v }},
	{Name: validate.FieldReceivedDate, Selector: "#ID_uktkYmd", set: func(r *job.RawFields, v *string) { r.ReceivedDate = v }},
	{Name: validate.FieldExpiryDate, Selector: "#ID_shkiKigenHi", set: func(r *job.RawFields, v *string) { r.ExpiryDate = v }},
	{Name: validate.FieldHomePage, Selector: "#ID_hp", Optional: true, set: func(r *job.RawFields, v *string) { r.HomePage = v }},
	{Name: validate.FieldOccupation, Selector: "#ID_sksu", set: func(r *job.RawFields, v *string) { r.Occupation = v }},
	{Name: validate.FieldEmploymentType, Selector: "#ID_koyoKeitai", set: func(r *job.RawFields, v *string) { r.EmploymentType = v }},
	{Name: validate.FieldWage, Selector: "#ID_chgn", set: func(r *job.RawFields, v *string) { r.Wage = v }},
	{Name: validate.FieldWorkingHours, Selector: "#ID_shgJn1", set: func(r *job.RawFields, v *string) { r.WorkingHours = v }},
	{Name: validate.FieldEmployeeCount, Selector: "#ID_jgisKigyoZentai", set: func(r *job.RawFields, v *string) { r.EmployeeCount = v }},
	{Name: validate.FieldWorkPlace, Selector: "#ID_shgBsJusho", set: func(r *job.RawFields, v *string) { r.WorkPlace = v }},
	{Name: validate.FieldDescription, Selector: "#ID_shigotoNy", set: func(r *job.RawFields, v *string) { r.Description = v }},
	{Name: validate.FieldQualifications, Selector: "#ID_hynaMenkyoSkku", Optional: true, set: func(r *job.RawFields, v *string) { r.Qualifications = v }},
}

// Raw reads every field of the table from src, stopping at the first one that cannot be read.
func Raw(ctx context.Context, src Source) (job.RawFields, error) {
	var raw job.RawFields
	for _, f := range Fields {
		v, err := f.read(ctx, src)
		if err != nil {
			return job.RawFields{}, err
		}
		f.set(&raw, v)
	}
	return raw, nil
}

func (f Field) read(ctx context.Context, src Source) (*string, error) {
	if f.Optional {
		ok, err := src.Exists(ctx, f.Selector)
		if err != nil {
			return nil, f.fail(ctx, src, "existence probe failed", err)
		}
		if !ok {
			return nil, nil
		}
	}
	text, err := src.Text(ctx, f.Selector)
	if err != nil {
		reason := "element unreadable"
		if errors.Is(err, browser.ErrNotFound) {
			reason = "element missing"
		}
		return nil, f.fail(ctx, src, reason, err)
	}
	return &text, nil
}

func (f Field) fail(ctx context.Context, src Source, reason string, cause error) error {
	opts := []failure.Option{failure.WithField(f.Name), failure.WithSelector(f.Selector), failure.WithCause(cause)}
	if url, err := src.URL(ctx); err == nil && url != "" {
		opts = append(opts, failure.WithURL(url))
	}
	return failure.New(failure.KindExtract, "extract_"+f.Name, reason, opts...)
}

// Transform validates raw field by field and returns the first failure as is.
func Transform(expected job.Number, raw job.RawFields) (job.Normalized, error) {
	var out job.Normalized
	var err error

	if out.JobNumber, err = validate.JobNumber(deref(raw.JobNumber), expected); err != nil {
		return job.Normalized{}, err
	}
	if out.CompanyName, err = required(validate.FieldCompanyName, raw.CompanyName); err != nil {
		return job.Normalized{}, err
	}
	if out.ReceivedDate, err = validate.Date(validate.FieldReceivedDate, deref(raw.ReceivedDate)); err != nil {
		return job.Normalized{}, err
	}
	if out.ExpiryDate, err = validate.Date(validate.FieldExpiryDate, deref(raw.ExpiryDate)); err != nil {
		return job.Normalized{}, err
	}
	if raw.HomePage != nil {
		hp, err := validate.HomePage(*raw.HomePage)
		if err != nil {
			return job.Normalized{}, err
		}
		out.HomePage = &hp
	}
	if out.Occupation, err = required(validate.FieldOccupation, raw.Occupation); err != nil {
		return job.Normalized{}, err
	}
	if out.EmploymentType, err = validate.EmploymentType(deref(raw.EmploymentType)); err != nil {
		return job.Normalized{}, err
	}
	wage, err := validate.Wage(deref(raw.Wage))
	if err != nil {
		return job.Normalized{}, err
	}
	out.WageMin, out.WageMax = wage.Min, wage.Max
	hours, err := validate.WorkingHours(deref(raw.WorkingHours))
	if err != nil {
		return job.Normalized{}, err
	}
	out.WorkingStartTime, out.WorkingEndTime = hours.Start, hours.End
	if out.EmployeeCount, err = validate.EmployeeCount(deref(raw.EmployeeCount)); err != nil {
		return job.Normalized{}, err
	}
	if out.WorkPlace, err = required(validate.FieldWorkPlace, raw.WorkPlace); err != nil {
		return job.Normalized{}, err
	}
	if out.JobDescription, err = required(validate.FieldDescription, raw.Description); err != nil {
		return job.Normalized{}, err
	}
	if raw.Qualifications != nil {
		if q := strings.TrimSpace(*raw.Qualifications); q != "" {
			out.Qualifications = &q
		}
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func required(field string, s *string) (string, error) {
	return validate.Text(field, deref(s))
}

// FromDetailPage extracts and normalizes a job straight from the live detail screen.
func FromDetailPage(ctx context.Context, d page.DetailPage, expected job.Number) (job.Normalized, error) {
	raw, err := Raw(ctx, d)
	if err != nil {
		return job.Normalized{}, err
	}
	return Transform(expected, raw)
}

// FromHTML extracts and normalizes a job from a captured detail screen. No browser is involved.
func FromHTML(ctx context.Context, html, url string, expected job.Number) (job.Normalized, error) {
	doc, err := NewDocument(html, url)
	if err != nil {
		return job.Normalized{}, err
	}
	raw, err := Raw(ctx, doc)
	if err != nil {
		return job.Normalized{}, err
	}
	return Transform(expected, raw)
}

// Document is a Source over static markup.
type Document struct {
	doc *goquery.Document
	url string
}

// NewDocument parses html captured at url.
func NewDocument(html, url string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, failure.New(failure.KindExtract, "parse_html", "captured document is not parseable",
			failure.WithURL(url), failure.WithCause(err))
	}
	return &Document{doc: doc, url: url}, nil
}

// Text implements Source.
func (d *Document) Text(_ context.Context, selector string) (string, error) {
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return strings.TrimSpace(sel.First().Text()), nil
}

// Exists implements Source.
func (d *Document) Exists(_ context.Context, selector string) (bool, error) {
	return d.doc.Find(selector).Length() > 0, nil
}

// URL implements Source.
func (d *Document) URL(context.Context) (string, error) { return d.url, nil }
