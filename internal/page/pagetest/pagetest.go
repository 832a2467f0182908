// Package pagetest builds fake copies of the job search site for browsertest.
package pagetest

import (
	"fmt"
	"html"
	"strings"

	"github.com/JakeFAU/hellowork-crawler/internal/browser/browsertest"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
)

// SearchURL is where the fake search form is served.
const SearchURL = page.DefaultSearchURL

// ListURL returns the URL of listing page n (1-based) of a criteria search.
func ListURL(n int) string {
	return fmt.Sprintf("https://www.hellowork.mhlw.go.jp/kensaku/GECA110010.do?action=search&page=%d", n)
}

// NumberListURL returns the URL of the listing produced by a job number search.
func NumberListURL(n job.Number) string {
	return "https://www.hellowork.mhlw.go.jp/kensaku/GECA110010.do?action=searchNo&kJNo=" + n.String()
}

// DetailURL returns the URL of a job's detail screen.
func DetailURL(n job.Number) string {
	return "https://www.hellowork.mhlw.go.jp/kensaku/GECA110020.do?screenId=GECA110020&action=dispDetailBtn&kJNo=" + n.String()
}

// Ptr returns a pointer to s.
func Ptr(s string) *string { return &s }

// SearchHTML renders the search form.
func SearchHTML() string {
	return `<html><head><title>hellowork</title></head><body>
<div class="page_title">` + page.SearchTitle + `</div>
<form>
  <select id="ID_tDFK1CmbBox"><option value=""></option><option value="13">東京都</option><option value="27">大阪府</option></select>
  <select id="ID_sKGYBRUIJo1"><option value=""></option><option value="01">事務的職業</option><option value="02">販売の職業</option></select>
  <input type="checkbox" id="ID_LippanCKBox1"><input type="checkbox" id="ID_LippanCKBox2">
  <input type="checkbox" id="ID_LpartCKBox1"><input type="checkbox" id="ID_LhakenCKBox1">
  <input type="radio" name="newArrivedKbn" id="ID_newArrivedKbn1">
  <input type="radio" name="newArrivedKbn" id="ID_newArrivedKbn2">
  <input type="radio" name="newArrivedKbn" id="ID_newArrivedKbn3">
  <input type="text" id="ID_kJNoJo1"><input type="text" id="ID_kJNoGe1">
  <input type="button" id="ID_searchNoBtn" value="検索">
  <input type="button" id="ID_searchBtn" value="検索する">
</form></body></html>`
}

// ListHTML renders a listing of numbers. The next button is rendered disabled when hasNext is false.
func ListHTML(numbers []job.Number, hasNext bool) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="page_title">` + page.ListTitle + `</div>`)
	for _, n := range numbers {
		fmt.Fprintf(&b, `<table class="kyujin"><tr class="kyujin_head"><td>求人</td></tr>`+
			`<tr class="kyujin_body"><td class="kyujin_no"><div> %s </div></td>`+
			`<td><a id="ID_dispDetailBtn" href="#" target="_blank">詳細を表示</a></td></tr></table>`, html.EscapeString(n.String()))
	}
	if hasNext {
		b.WriteString(`<input type="submit" name="fwListNaviBtnNext" value="次へ&gt;">`)
	} else {
		b.WriteString(`<input type="submit" name="fwListNaviBtnNext" value="次へ&gt;" disabled="disabled">`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// Detail is the content of one detail screen. A nil field is not rendered at all.
type Detail struct {
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

// ValidDetail returns a detail screen that normalizes cleanly.
func ValidDetail(n job.Number) Detail {
	return Detail{
		JobNumber:      Ptr(n.String()),
		CompanyName:    Ptr("株式会社サンプル"),
		ReceivedDate:   Ptr("2024年5月1日"),
		ExpiryDate:     Ptr("2024年7月31日"),
		HomePage:       Ptr("https://example.co.jp/recruit"),
		Occupation:     Ptr("一般事務"),
		EmploymentType: Ptr("正社員"),
		Wage:           Ptr("200,000円〜300,000円"),
		WorkingHours:   Ptr("9時00分〜18時00分"),
		EmployeeCount:  Ptr("150人"),
		WorkPlace:      Ptr("東京都千代田区霞が関1-2-2"),
		Description:    Ptr("書類作成、電話応対、来客対応などの一般事務全般"),
		Qualifications: Ptr("普通自動車運転免許"),
	}
}

// HTML renders the detail screen.
func (d Detail) HTML() string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="page_title">` + page.DetailTitle + `</div><table class="normal">`)
	row := func(id string, v *string) {
		if v == nil {
			return
		}
		fmt.Fprintf(&b, `<tr><th>-</th><td><div id="%s">%s</div></td></tr>`, id, html.EscapeString(*v))
	}
	row("ID_kjNo", d.JobNumber)
	row("ID_jgshMei", d.CompanyName)
	row("ID_uktkYmd", d.ReceivedDate)
	row("ID_shkiKigenHi", d.ExpiryDate)
	if d.HomePage != nil {
		fmt.Fprintf(&b, `<tr><th>ホームページ</th><td><a id="ID_hp" href="%[1]s">%[1]s</a></td></tr>`, html.EscapeString(*d.HomePage))
	}
	row("ID_sksu", d.Occupation)
	row("ID_koyoKeitai", d.EmploymentType)
	row("ID_chgn", d.Wage)
	row("ID_shgJn1", d.WorkingHours)
	row("ID_jgisKigyoZentai", d.EmployeeCount)
	row("ID_shgBsJusho", d.WorkPlace)
	row("ID_shigotoNy", d.Description)
	row("ID_hynaMenkyoSkku", d.Qualifications)
	b.WriteString(`</table></body></html>`)
	return b.String()
}

// NumberSearchSite serves the search form, a job number search that lists rows, and n's detail screen.
func NumberSearchSite(n job.Number, rows []job.Number, d Detail) *browsertest.Site {
	return browsertest.NewSite().
		Page(SearchURL, SearchHTML()).
		Page(NumberListURL(n), ListHTML(rows, false)).
		Page(DetailURL(n), d.HTML()).
		Link(SearchURL, page.SearchByNumberSelector, NumberListURL(n)).
		Link(NumberListURL(n), page.DetailButtonSelector, DetailURL(n))
}

// Site serves the search form and, through the job number search, one detail screen per entry of
// details. A number without an entry routes to a listing that is not served.
func Site(details ...Detail) *browsertest.Site {
	site := browsertest.NewSite().
		Page(SearchURL, SearchHTML()).
		LinkFunc(SearchURL, page.SearchByNumberSelector, func(values map[string]string) string {
			return NumberListURL(job.Number(values[page.JobNumberPrefixSelector] + "-" + values[page.JobNumberSerialSelector]))
		})
	for _, d := range details {
		n := job.Number(*d.JobNumber)
		site.Page(NumberListURL(n), ListHTML([]job.Number{n}, false)).
			Page(DetailURL(n), d.HTML()).
			Link(NumberListURL(n), page.DetailButtonSelector, DetailURL(n))
	}
	return site
}

// ListingSite serves the search form and a criteria search whose listing spans pages.
func ListingSite(pages [][]job.Number) *browsertest.Site {
	site := browsertest.NewSite().Page(SearchURL, SearchHTML())
	if len(pages) == 0 {
		return site
	}
	site.Link(SearchURL, page.SearchSelector, ListURL(1))
	for i, numbers := range pages {
		n := i + 1
		site.Page(ListURL(n), ListHTML(numbers, n < len(pages)))
		if n < len(pages) {
			site.Link(ListURL(n), page.NextButtonSelector, ListURL(n+1))
		}
	}
	return site
}

// Numbers returns count sequential job numbers under office prefix, starting at serial start.
func Numbers(prefix string, start, count int) []job.Number {
	out := make([]job.Number, 0, count)
	for i := range count {
		out = append(out, job.Number(fmt.Sprintf("%s-%08d", prefix, start+i)))
	}
	return out
}
