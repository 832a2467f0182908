// Package page is the navigation state machine for the job search site.
//
// SearchPage, ListPage and DetailPage each wrap a live browser.Page and can only be obtained from the
// Validate functions, which read the screen's title marker. An operation that needs a list screen
// takes a ListPage, so driving the wrong screen does not compile. Every driver error is reported as a
// *failure.Failure naming the operation and the selector that was consulted. Nothing here retries.
package page

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/hellowork-crawler/internal/browser"
	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

// DefaultSearchURL is the job search form.
const DefaultSearchURL = "https://www.hellowork.mhlw.go.jp/kensaku/GECA110010.do?action=initDisp&screenId=GECA110010"

// ListRoutePath is the path every search result listing is served from.
const ListRoutePath = "/kensaku/GECA110010.do"

// Title markers.
const (
	TitleSelector = "div.page_title"

	SearchTitle = "求人情報検索"
	ListTitle   = "求人情報一覧"
	DetailTitle = "求人情報詳細"
)

// Search form.
const (
	JobNumberPrefixSelector = "#ID_kJNoJo1"
	JobNumberSerialSelector = "#ID_kJNoGe1"
	SearchByNumberSelector  = "#ID_searchNoBtn"
	SearchSelector          = "#ID_searchBtn"
	PrefectureSelector      = "#ID_tDFK1CmbBox"
	OccupationSelector      = "#ID_sKGYBRUIJo1"
)

// Result listing.
const (
	ResultRowSelector    = "table.kyujin"
	RowJobNumberSelector = "table.kyujin td.kyujin_no div"
	DetailButtonSelector = "#ID_dispDetailBtn"
	NextButtonSelector   = `input[name="fwListNaviBtnNext"]`
	nextEnabledSelector  = `input[name="fwListNaviBtnNext"]:not([disabled])`
)

var employmentTypeCheckboxes = map[job.EmploymentType]string{
	job.EmploymentFullTime:      "#ID_LippanCKBox1",
	job.EmploymentNonFullTime:   "#ID_LippanCKBox2",
	job.EmploymentPartTime:      "#ID_LpartCKBox1",
	job.EmploymentFixedDispatch: "#ID_LhakenCKBox1",
}

var periodRadios = map[job.Period]string{
	job.PeriodToday:       "#ID_newArrivedKbn1",
	job.PeriodWithin3Days: "#ID_newArrivedKbn2",
	job.PeriodWithin7Days: "#ID_newArrivedKbn3",
}

// SearchPage is a page validated as the search form.
type SearchPage struct{ p browser.Page }

// ListPage is a page validated as a result listing.
type ListPage struct{ p browser.Page }

// DetailPage is a page validated as a job detail screen.
type DetailPage struct{ p browser.Page }

// URL returns the current location of the listing.
func (l ListPage) URL(ctx context.Context) (string, error) { return l.p.URL(ctx) }

// Text reads the trimmed text of the first element matching selector.
func (d DetailPage) Text(ctx context.Context, selector string) (string, error) {
	return d.p.Text(ctx, selector)
}

// Exists reports whether selector matches anything on the detail screen.
func (d DetailPage) Exists(ctx context.Context, selector string) (bool, error) {
	return d.p.Exists(ctx, selector)
}

// URL returns the current location of the detail screen.
func (d DetailPage) URL(ctx context.Context) (string, error) { return d.p.URL(ctx) }

// HTML captures the fully rendered document.
func (d DetailPage) HTML(ctx context.Context) (string, error) {
	html, err := d.p.HTML(ctx)
	if err != nil {
		return "", fail(ctx, d.p, failure.KindQuery, "capture_html", "html", "could not serialize detail page", err)
	}
	return html, nil
}

// fail builds a Failure and best-effort attaches the current page URL.
func fail(ctx context.Context, p browser.Page, kind failure.Kind, op, selector, reason string, cause error,
	extra ...failure.Option,
) *failure.Failure {
	opts := []failure.Option{failure.WithSelector(selector), failure.WithCause(cause)}
	if url, err := p.URL(ctx); err == nil && url != "" {
		opts = append(opts, failure.WithURL(url))
	}
	return failure.New(kind, op, reason, append(opts, extra...)...)
}

func validateTitle(ctx context.Context, p browser.Page, op, want string) error {
	got, err := p.Text(ctx, TitleSelector)
	if err != nil {
		return fail(ctx, p, failure.KindPageValidation, op, TitleSelector, "title marker is unreadable", err)
	}
	if got != want {
		return fail(ctx, p, failure.KindPageValidation, op, TitleSelector, fmt.Sprintf("expected title %q", want), nil,
			failure.WithRaw(got))
	}
	return nil
}

// ValidateSearchPage proves p shows the search form.
func ValidateSearchPage(ctx context.Context, p browser.Page) (SearchPage, error) {
	if err := validateTitle(ctx, p, "validate_search_page", SearchTitle); err != nil {
		return SearchPage{}, err
	}
	return SearchPage{p: p}, nil
}

// ValidateListPage proves p shows a result listing. An empty listing is still a listing.
func ValidateListPage(ctx context.Context, p browser.Page) (ListPage, error) {
	if err := validateTitle(ctx, p, "validate_list_page", ListTitle); err != nil {
		return ListPage{}, err
	}
	return ListPage{p: p}, nil
}

// ValidateDetailPage proves p shows a job detail screen.
func ValidateDetailPage(ctx context.Context, p browser.Page) (DetailPage, error) {
	if err := validateTitle(ctx, p, "validate_detail_page", DetailTitle); err != nil {
		return DetailPage{}, err
	}
	return DetailPage{p: p}, nil
}

// OpenSearchPage loads searchURL and validates the search form.
func OpenSearchPage(ctx context.Context, p browser.Page, searchURL string) (SearchPage, error) {
	if err := p.Navigate(ctx, searchURL); err != nil {
		return SearchPage{}, failure.New(failure.KindNavigation, "open_search_page", "could not load search page",
			failure.WithURL(searchURL), failure.WithCause(err))
	}
	return ValidateSearchPage(ctx, p)
}

// SearchByCriteria fills the search form from c, submits it and waits for the listing route.
func SearchByCriteria(ctx context.Context, s SearchPage, c job.Criteria) (ListPage, error) {
	const op = "search_by_criteria"
	p := s.p
	before, err := p.URL(ctx)
	if err != nil {
		return ListPage{}, failure.New(failure.KindNavigation, op, "could not read current url", failure.WithCause(err))
	}

	if c.Prefecture != "" {
		if err := p.SelectByLabel(ctx, PrefectureSelector, c.Prefecture); err != nil {
			return ListPage{}, formFill(ctx, p, op, PrefectureSelector, c.Prefecture, err)
		}
	}
	if c.Occupation != "" {
		if err := p.SelectByLabel(ctx, OccupationSelector, c.Occupation); err != nil {
			return ListPage{}, formFill(ctx, p, op, OccupationSelector, c.Occupation, err)
		}
	}
	if c.EmploymentType != "" {
		selector, ok := employmentTypeCheckboxes[c.EmploymentType]
		if !ok {
			return ListPage{}, formFill(ctx, p, op, "", string(c.EmploymentType), nil)
		}
		if err := p.Check(ctx, selector); err != nil {
			return ListPage{}, formFill(ctx, p, op, selector, string(c.EmploymentType), err)
		}
	}
	if c.Period != "" && c.Period != job.PeriodAll {
		selector, ok := periodRadios[c.Period]
		if !ok {
			return ListPage{}, formFill(ctx, p, op, "", string(c.Period), nil)
		}
		if err := p.Check(ctx, selector); err != nil {
			return ListPage{}, formFill(ctx, p, op, selector, string(c.Period), err)
		}
	}

	if err := p.Click(ctx, SearchSelector); err != nil {
		return ListPage{}, fail(ctx, p, failure.KindNavigation, op, SearchSelector, "could not submit search form", err)
	}
	if _, err := p.WaitURL(ctx, listRoute(before)); err != nil {
		return ListPage{}, fail(ctx, p, failure.KindNavigation, op, SearchSelector, "listing route never loaded", err)
	}
	return ValidateListPage(ctx, p)
}

func formFill(ctx context.Context, p browser.Page, op, selector, value string, cause error) error {
	reason := "no form control for value"
	if cause != nil {
		reason = "could not fill form control"
	}
	return fail(ctx, p, failure.KindFormFill, op, selector, reason, cause, failure.WithRaw(value))
}

// listRoute accepts a URL that differs from before and points at the listing rather than the form.
func listRoute(before string) func(string) bool {
	return func(u string) bool {
		return u != before && strings.Contains(u, ListRoutePath) && !strings.Contains(u, "action=initDisp")
	}
}

// SearchByJobNumber fills only the job number fields and submits through the number search button.
func SearchByJobNumber(ctx context.Context, s SearchPage, n job.Number) (ListPage, error) {
	const op = "search_by_job_number"
	p := s.p
	if err := p.SetValue(ctx, JobNumberPrefixSelector, n.Prefix()); err != nil {
		return ListPage{}, formFill(ctx, p, op, JobNumberPrefixSelector, n.Prefix(), err)
	}
	if err := p.SetValue(ctx, JobNumberSerialSelector, n.Serial()); err != nil {
		return ListPage{}, formFill(ctx, p, op, JobNumberSerialSelector, n.Serial(), err)
	}
	if err := p.ClickNavigate(ctx, SearchByNumberSelector); err != nil {
		return ListPage{}, fail(ctx, p, failure.KindNavigation, op, SearchByNumberSelector, "could not submit job number search", err)
	}
	return ValidateListPage(ctx, p)
}

// AssertSingleResult fails unless the listing holds exactly one row.
func AssertSingleResult(ctx context.Context, l ListPage) error {
	const op = "assert_single_result"
	n, err := l.p.Count(ctx, ResultRowSelector)
	if err != nil {
		return fail(ctx, l.p, failure.KindQuery, op, ResultRowSelector, "could not count result rows", err)
	}
	if n != 1 {
		return fail(ctx, l.p, failure.KindAssertion, op, ResultRowSelector,
			fmt.Sprintf("expected exactly one result row, found %d", n), nil)
	}
	return nil
}

// OpenDetailFromList opens the detail screen of the listing's first row in the same tab.
func OpenDetailFromList(ctx context.Context, l ListPage) (DetailPage, error) {
	const op = "open_detail_from_list"
	p := l.p
	if err := p.RemoveAttribute(ctx, DetailButtonSelector, "target"); err != nil {
		return DetailPage{}, fail(ctx, p, failure.KindNavigation, op, DetailButtonSelector, "could not prepare detail button", err)
	}
	if err := p.ClickNavigate(ctx, DetailButtonSelector); err != nil {
		return DetailPage{}, fail(ctx, p, failure.KindNavigation, op, DetailButtonSelector, "could not open detail page", err)
	}
	return ValidateDetailPage(ctx, p)
}

// HasNextPage reports whether the listing offers an enabled next button.
func HasNextPage(ctx context.Context, l ListPage) (bool, error) {
	ok, err := l.p.Exists(ctx, nextEnabledSelector)
	if err != nil {
		return false, fail(ctx, l.p, failure.KindQuery, "has_next_page", NextButtonSelector, "could not probe next button", err)
	}
	return ok, nil
}

// AdvanceToNextPage clicks through to the following listing page and validates it.
func AdvanceToNextPage(ctx context.Context, l ListPage) (ListPage, error) {
	const op = "advance_to_next_page"
	if err := l.p.ClickNavigate(ctx, NextButtonSelector); err != nil {
		return ListPage{}, fail(ctx, l.p, failure.KindNavigation, op, NextButtonSelector, "could not load next page", err)
	}
	return ValidateListPage(ctx, l.p)
}

// JobNumbers reads the job number cell of every result row, in page order.
func JobNumbers(ctx context.Context, l ListPage) ([]job.Number, error) {
	const op = "read_job_numbers"
	rows, err := l.p.Count(ctx, ResultRowSelector)
	if err != nil {
		return nil, fail(ctx, l.p, failure.KindQuery, op, ResultRowSelector, "could not count result rows", err)
	}
	cells, err := l.p.Texts(ctx, RowJobNumberSelector)
	if err != nil {
		return nil, fail(ctx, l.p, failure.KindQuery, op, RowJobNumberSelector, "could not read job number cells", err)
	}
	if len(cells) != rows {
		return nil, fail(ctx, l.p, failure.KindExtract, op, RowJobNumberSelector,
			fmt.Sprintf("%d result rows but %d job number cells", rows, len(cells)), nil)
	}
	numbers := make([]job.Number, 0, len(cells))
	for _, cell := range cells {
		n, err := job.ParseNumber(cell)
		if err != nil {
			return nil, fail(ctx, l.p, failure.KindExtract, op, RowJobNumberSelector, "job number cell is malformed", err,
				failure.WithField("jobNumber"), failure.WithRaw(cell))
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}
