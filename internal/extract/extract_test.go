package extract_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hellowork-crawler/internal/browser/browsertest"
	"github.com/JakeFAU/hellowork-crawler/internal/extract"
	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
	"github.com/JakeFAU/hellowork-crawler/internal/page/pagetest"
	"github.com/JakeFAU/hellowork-crawler/internal/validate"
)

const number = job.Number("13010-00000001")

func openDetail(t *testing.T, site *browsertest.Site) page.DetailPage {
	t.Helper()
	ctx := context.Background()
	p := browsertest.NewPage(site)
	require.NoError(t, p.Navigate(ctx, pagetest.DetailURL(number)))
	d, err := page.ValidateDetailPage(ctx, p)
	require.NoError(t, err)
	return d
}

func rawFrom(d pagetest.Detail) job.RawFields {
	return job.RawFields{
		JobNumber:      d.JobNumber,
		CompanyName:    d.CompanyName,
		ReceivedDate:   d.ReceivedDate,
		ExpiryDate:     d.ExpiryDate,
		HomePage:       d.HomePage,
		Occupation:     d.Occupation,
		EmploymentType: d.EmploymentType,
		Wage:           d.Wage,
		WorkingHours:   d.WorkingHours,
		EmployeeCount:  d.EmployeeCount,
		WorkPlace:      d.WorkPlace,
		Description:    d.Description,
		Qualifications: d.Qualifications,
	}
}

func TestTransformNormalizesScenario(t *testing.T) {
	t.Parallel()

	raw := rawFrom(pagetest.ValidDetail(number))
	raw.JobNumber = pagetest.Ptr("13010-00000001")
	raw.Wage = pagetest.Ptr("200,000円〜300,000円")
	raw.WorkingHours = pagetest.Ptr("9時00分〜18時00分")
	raw.EmployeeCount = pagetest.Ptr("150人")

	got, err := extract.Transform(number, raw)
	require.NoError(t, err)
	assert.Equal(t, number, got.JobNumber)
	assert.Equal(t, 200000, got.WageMin)
	assert.Equal(t, 300000, got.WageMax)
	assert.Equal(t, "09:00:00", got.WorkingStartTime)
	assert.Equal(t, "18:00:00", got.WorkingEndTime)
	assert.Equal(t, 150, got.EmployeeCount)
	assert.Equal(t, "2024-05-01T00:00:00+09:00", got.ReceivedDate.Format(time.RFC3339))
	assert.Equal(t, job.EmploymentFullTime, got.EmploymentType)
	require.NotNil(t, got.HomePage)
	assert.Equal(t, "https://example.co.jp/recruit", *got.HomePage)
	require.NotNil(t, got.Qualifications)
}

func TestTransformShortCircuitsOnFirstFailure(t *testing.T) {
	t.Parallel()

	raw := rawFrom(pagetest.ValidDetail(number))
	raw.ReceivedDate = pagetest.Ptr("2024/05/01")
	raw.Wage = pagetest.Ptr("300,000円〜200,000円")

	_, err := extract.Transform(number, raw)
	f, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindValidation, f.Kind)
	assert.Equal(t, validate.FieldReceivedDate, f.Field)
	assert.Equal(t, "2024/05/01", f.Raw)
}

func TestTransformRejectsOtherJob(t *testing.T) {
	t.Parallel()

	raw := rawFrom(pagetest.ValidDetail("13010-00000002"))
	_, err := extract.Transform(number, raw)
	f, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, validate.FieldJobNumber, f.Field)
}

func TestTransformOptionalFields(t *testing.T) {
	t.Parallel()

	raw := rawFrom(pagetest.ValidDetail(number))
	raw.HomePage = nil
	raw.Qualifications = pagetest.Ptr("   ")
	got, err := extract.Transform(number, raw)
	require.NoError(t, err)
	assert.Nil(t, got.HomePage)
	assert.Nil(t, got.Qualifications)

	raw.HomePage = pagetest.Ptr("www.example.co.jp")
	_, err = extract.Transform(number, raw)
	assert.True(t, failure.IsKind(err, failure.KindValidation))
}

func TestFromDetailPage(t *testing.T) {
	t.Parallel()

	d := openDetail(t, pagetest.Site(pagetest.ValidDetail(number)))
	got, err := extract.FromDetailPage(context.Background(), d, number)
	require.NoError(t, err)
	assert.Equal(t, "株式会社サンプル", got.CompanyName)
	assert.Equal(t, "東京都千代田区霞が関1-2-2", got.WorkPlace)
}

func TestMissingHomePageIsNull(t *testing.T) {
	t.Parallel()

	detail := pagetest.ValidDetail(number)
	detail.HomePage = nil
	d := openDetail(t, pagetest.Site(detail))

	raw, err := extract.Raw(context.Background(), d)
	require.NoError(t, err)
	assert.Nil(t, raw.HomePage)

	got, err := extract.FromDetailPage(context.Background(), d, number)
	require.NoError(t, err)
	assert.Nil(t, got.HomePage)
}

func TestMissingRequiredElement(t *testing.T) {
	t.Parallel()

	detail := pagetest.ValidDetail(number)
	detail.Wage = nil
	d := openDetail(t, pagetest.Site(detail))

	_, err := extract.Raw(context.Background(), d)
	f, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindExtract, f.Kind)
	assert.Equal(t, validate.FieldWage, f.Field)
	assert.Equal(t, "#ID_chgn", f.Selector)
	assert.Equal(t, pagetest.DetailURL(number), f.URL)
	assert.Equal(t, "element missing", f.Reason)
}

func TestProbeFailureIsExtractFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("execution context was destroyed")
	site := pagetest.Site(pagetest.ValidDetail(number)).Fail(browsertest.OpExists, "#ID_hynaMenkyoSkku", boom)
	d := openDetail(t, site)

	_, err := extract.Raw(context.Background(), d)
	f, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindExtract, f.Kind)
	assert.Equal(t, validate.FieldQualifications, f.Field)
	require.ErrorIs(t, err, boom)
}

func TestFromHTMLMatchesLivePage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	detail := pagetest.ValidDetail(number)
	d := openDetail(t, pagetest.Site(detail))
	live, err := extract.FromDetailPage(ctx, d, number)
	require.NoError(t, err)

	html, err := d.HTML(ctx)
	require.NoError(t, err)
	offline, err := extract.FromHTML(ctx, html, pagetest.DetailURL(number), number)
	require.NoError(t, err)
	assert.Equal(t, live, offline)
}

func TestFromHTMLFailureCarriesURL(t *testing.T) {
	t.Parallel()

	detail := pagetest.ValidDetail(number)
	detail.EmploymentType = pagetest.Ptr("アルバイト")
	_, err := extract.FromHTML(context.Background(), detail.HTML(), "https://example.test/detail", number)
	f, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindValidation, f.Kind)
	assert.Equal(t, validate.FieldEmploymentType, f.Field)
	assert.Equal(t, "アルバイト", f.Raw)

	detail = pagetest.ValidDetail(number)
	detail.CompanyName = nil
	_, err = extract.FromHTML(context.Background(), detail.HTML(), "https://example.test/detail", number)
	f, ok = failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindExtract, f.Kind)
	assert.Equal(t, "https://example.test/detail", f.URL)
}

func TestFieldTableCoversEveryRawField(t *testing.T) {
	t.Parallel()

	names := make(map[string]bool)
	optional := 0
	for _, f := range extract.Fields {
		assert.False(t, names[f.Name], "duplicate field %s", f.Name)
		names[f.Name] = true
		if f.Optional {
			optional++
		}
	}
	assert.Len(t, extract.Fields, 13)
	assert.Equal(t, 2, optional)
}
