package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/internal/repository"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/jobs"
	"github.com/noah-isme/atb-stewardship-api/pkg/mailer"
)

type monthlyReportRepoStub struct {
	reports map[string]*models.MonthlyReport
	saveErr error
}

func newMonthlyReportRepoStub() *monthlyReportRepoStub {
	return &monthlyReportRepoStub{reports: map[string]*models.MonthlyReport{}}
}

func (r *monthlyReportRepoStub) Save(ctx context.Context, report *models.MonthlyReport) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	for id, existing := range r.reports {
		if existing.Period == report.Period {
			delete(r.reports, id)
		}
	}
	copied := *report
	r.reports[report.ID] = &copied
	return nil
}

func (r *monthlyReportRepoStub) GetByID(ctx context.Context, id string) (*models.MonthlyReport, error) {
	report, ok := r.reports[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *report
	return &copied, nil
}

func (r *monthlyReportRepoStub) List(ctx context.Context, limit int) ([]models.MonthlyReport, error) {
	out := make([]models.MonthlyReport, 0, len(r.reports))
	for _, report := range r.reports {
		out = append(out, *report)
	}
	return out, nil
}

func (r *monthlyReportRepoStub) Update(ctx context.Context, id string, params repository.UpdateMonthlyReportParams) error {
	report, ok := r.reports[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		report.Status = *params.Status
	}
	if params.Attempts != nil {
		report.Attempts = *params.Attempts
	}
	if params.DeliveredAt != nil {
		report.DeliveredAt = params.DeliveredAt
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		report.ErrorMessage = &msg
	}
	return nil
}

func (r *monthlyReportRepoStub) ListUndelivered(ctx context.Context, limit int) ([]models.MonthlyReport, error) {
	var out []models.MonthlyReport
	for _, report := range r.reports {
		if report.Status == models.ReportStatusGenerated {
			out = append(out, *report)
		}
	}
	return out, nil
}

type censusStub struct {
	patients []models.Patient
	courses  map[string][]models.Course
	err      error
}

func (c *censusStub) List(ctx context.Context, filter models.PatientFilter) ([]models.Patient, int, error) {
	if c.err != nil {
		return nil, 0, c.err
	}
	return c.patients, len(c.patients), nil
}

func (c *censusStub) ListByPatients(ctx context.Context, ids []string) (map[string][]models.Course, error) {
	out := make(map[string][]models.Course, len(ids))
	for _, id := range ids {
		out[id] = c.courses[id]
	}
	return out, nil
}

type reportSettingsStub struct {
	recipient string
	hospital  string
	err       error
}

func (s reportSettingsStub) ReportSettings(context.Context) (string, string, error) {
	return s.recipient, s.hospital, s.err
}

type jobQueueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *jobQueueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type senderStub struct {
	sent []mailer.Message
	err  error
}

func (s *senderStub) Send(ctx context.Context, msg mailer.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func reportCensus() *censusStub {
	route := "iv"
	return &censusStub{
		patients: []models.Patient{
			{ID: "p-1", Name: "Ana Souza", Sector: "Ward 3", Bed: "12", CareUnitClass: models.CareUnitStandard},
			{ID: "p-2", Name: "Bruno Lima", Sector: "ICU", Bed: "2", CareUnitClass: models.CareUnitCritical},
			{ID: "p-3", Name: "Clara Dias", Sector: "Ward 3", Bed: "14", CareUnitClass: models.CareUnitStandard},
		},
		courses: map[string][]models.Course{
			"p-1": {
				{ID: "c-1", PatientID: "p-1", Name: "Meropenem", Category: models.CategoryAntimicrobial, Route: &route,
					Regimen: models.RegimenCourse, StartDate: dateUTC(2024, 3, 28), PlannedDurationDays: 7,
					Status: models.CourseStatusActive, Authorization: models.AuthorizationApproved},
				{ID: "c-2", PatientID: "p-1", Name: "Vancomycin", Category: models.CategoryAntimicrobial,
					Regimen: models.RegimenCourse, StartDate: dateUTC(2024, 3, 20), PlannedDurationDays: 7,
					Status: models.CourseStatusActive, Authorization: models.AuthorizationRejected},
				{ID: "c-3", PatientID: "p-1", Name: "Ceftriaxone", Category: models.CategoryAntimicrobial,
					Regimen: models.RegimenCourse, StartDate: dateUTC(2024, 3, 1), PlannedDurationDays: 5,
					Status: models.CourseStatusCompleted, Authorization: models.AuthorizationApproved},
			},
			"p-2": {
				{ID: "c-4", PatientID: "p-2", Name: "Cefazolin", Category: models.CategoryAntimicrobial,
					Regimen: models.RegimenSingleDose, Status: models.CourseStatusActive, Authorization: models.AuthorizationPending},
			},
		},
	}
}

type reportFixture struct {
	svc      *MonthlyReportService
	repo     *monthlyReportRepoStub
	queue    *jobQueueStub
	exporter *ExportService
	census   *censusStub
	now      time.Time
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	now := at(2024, 3, 31, 21, 0)
	exporter := newExportServiceForTest(t, now)
	repo := newMonthlyReportRepoStub()
	queue := &jobQueueStub{}
	census := reportCensus()
	calc := NewTherapyCalculator(nil, nil, TherapyPolicy{DayLock: true}, nil)
	svc := NewMonthlyReportService(repo, census, census, calc,
		reportSettingsStub{recipient: "ccih@hospital.example", hospital: "General Hospital"},
		exporter, queue, nil)
	return &reportFixture{svc: svc, repo: repo, queue: queue, exporter: exporter, census: census, now: now}
}

func TestMonthlyReportGenerate(t *testing.T) {
	f := newReportFixture(t)

	report, err := f.svc.Generate(context.Background(), "2024-03", f.now)
	require.NoError(t, err)
	require.NotEmpty(t, report.ID)

	assert.Equal(t, models.ReportStatusGenerated, report.Status)
	assert.Equal(t, "reports/2024-03/stewardship_2024-03.pdf", report.PDFPath)
	assert.Equal(t, "reports/2024-03/stewardship_2024-03.csv", report.CSVPath)
	require.NotNil(t, report.Recipient)
	assert.Equal(t, "ccih@hospital.example", *report.Recipient)

	summary := report.Summary
	assert.Equal(t, 3, summary.Patients)
	assert.Equal(t, 2, summary.PatientsOnTherapy)
	assert.Equal(t, 3, summary.ActiveCourses)
	assert.Equal(t, 1, summary.OverdueCourses)
	assert.Equal(t, 1, summary.PendingReview)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 4+12+1, summary.DaysOfTherapy)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, report.ID, f.queue.jobs[0].ID)
	assert.Equal(t, JobTypeReportMail, f.queue.jobs[0].Type)

	csvBytes, err := f.exporter.ReadFile(report.CSVPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvBytes)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Ana Souza,standard,Ward 3,12,Meropenem,antimicrobial,2024-03-28,4/7,3,normal,approved", lines[1])
	assert.Equal(t, "Ana Souza,standard,Ward 3,12,Vancomycin,antimicrobial,2024-03-20,12/7,-5,overdue,rejected", lines[2])
	assert.Equal(t, "Bruno Lima,critical,ICU,2,Cefazolin,antimicrobial,-,single dose,-,not_applicable,pending", lines[3])
}

func TestMonthlyReportGenerateReplacesPeriod(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, "2024-03", f.now)
	require.NoError(t, err)
	second, err := f.svc.Generate(ctx, "2024-03", f.now.Add(time.Hour))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, f.repo.reports, 1)
}

func TestMonthlyReportGenerateRejectsBadPeriod(t *testing.T) {
	f := newReportFixture(t)

	_, err := f.svc.Generate(context.Background(), "2024-3-31", f.now)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Empty(t, f.queue.jobs)
}

func TestMonthlyReportGenerateFailsWhenCensusUnavailable(t *testing.T) {
	f := newReportFixture(t)
	f.census.err = errors.New("db down")

	_, err := f.svc.Generate(context.Background(), "2024-03", f.now)
	require.Error(t, err)
	assert.Empty(t, f.repo.reports)
}

func TestMonthlyReportGenerateKeepsReportWhenEnqueueFails(t *testing.T) {
	f := newReportFixture(t)
	f.queue.err = errors.New("queue stopped")

	report, err := f.svc.Generate(context.Background(), "2024-03", f.now)
	require.NoError(t, err)
	assert.Contains(t, f.repo.reports, report.ID)

	f.queue.err = nil
	f.svc.RecoverUndelivered(context.Background())
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, report.ID, f.queue.jobs[0].ID)
}

func TestMonthlyReportListAndDownload(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	report, err := f.svc.Generate(ctx, "2024-03", f.now)
	require.NoError(t, err)

	items, err := f.svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotEmpty(t, items[0].DownloadURL)
	require.NotEmpty(t, items[0].CSVDownloadURL)
	require.NotNil(t, items[0].ExpiresAt)
	assert.True(t, strings.HasPrefix(items[0].DownloadURL, "/api/v1/reports/monthly/download/"))

	token := items[0].DownloadURL[strings.LastIndex(items[0].DownloadURL, "/")+1:]
	download, err := f.svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck
	assert.Equal(t, "stewardship_2024-03.pdf", download.Filename)
	assert.Equal(t, "application/pdf", download.ContentType)
	data, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))

	// a token for a path the report does not own is refused
	foreign, _, err := f.exporter.SignedURL(report.ID, "reports/2024-02/stewardship_2024-02.pdf")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(ctx, foreign[strings.LastIndex(foreign, "/")+1:])
	assertAppErrorCode(t, err, appErrors.ErrForbidden.Code)

	_, err = f.svc.ResolveDownload(ctx, token+"x")
	assertAppErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func assertAppErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected app error, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func seedGeneratedReport(t *testing.T, f *reportFixture) *models.MonthlyReport {
	t.Helper()
	report, err := f.svc.Generate(context.Background(), "2024-03", f.now)
	require.NoError(t, err)
	return report
}

func TestReportDeliveryWorkerDelivers(t *testing.T) {
	f := newReportFixture(t)
	report := seedGeneratedReport(t, f)
	sender := &senderStub{}
	deliveredAt := f.now.Add(time.Minute)
	worker := NewReportDeliveryWorker(f.repo, f.exporter, reportSettingsStub{hospital: "General Hospital"}, sender,
		func() time.Time { return deliveredAt }, 3, nil)

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: report.ID, Type: JobTypeReportMail}))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"ccih@hospital.example"}, msg.To)
	assert.Equal(t, "General Hospital - Antimicrobial stewardship report 2024-03", msg.Subject)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "stewardship_2024-03.pdf", msg.Attachments[0].Name)
	assert.Equal(t, "stewardship_2024-03.csv", msg.Attachments[1].Name)

	stored := f.repo.reports[report.ID]
	assert.Equal(t, models.ReportStatusDelivered, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.DeliveredAt)
	assert.True(t, deliveredAt.Equal(*stored.DeliveredAt))

	// a redelivered job is a no-op
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: report.ID, Type: JobTypeReportMail}))
	assert.Len(t, sender.sent, 1)
}

func TestReportDeliveryWorkerRetriesThenFails(t *testing.T) {
	f := newReportFixture(t)
	report := seedGeneratedReport(t, f)
	sender := &senderStub{err: errors.New("smtp unavailable")}
	worker := NewReportDeliveryWorker(f.repo, f.exporter, reportSettingsStub{}, sender, nil, 2, nil)
	ctx := context.Background()

	err := worker.Handle(ctx, jobs.Job{ID: report.ID, Attempt: 0})
	require.Error(t, err)
	stored := f.repo.reports[report.ID]
	assert.Equal(t, models.ReportStatusGenerated, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "smtp unavailable", *stored.ErrorMessage)

	require.Error(t, worker.Handle(ctx, jobs.Job{ID: report.ID, Attempt: 1}))
	require.Error(t, worker.Handle(ctx, jobs.Job{ID: report.ID, Attempt: 2}))
	stored = f.repo.reports[report.ID]
	assert.Equal(t, models.ReportStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
}

func TestReportDeliveryWorkerWithoutRecipient(t *testing.T) {
	f := newReportFixture(t)
	f.svc.settings = reportSettingsStub{}
	report := seedGeneratedReport(t, f)
	require.Nil(t, report.Recipient)

	sender := &senderStub{}
	worker := NewReportDeliveryWorker(f.repo, f.exporter, reportSettingsStub{}, sender, nil, 3, nil)
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: report.ID}))

	assert.Empty(t, sender.sent)
	stored := f.repo.reports[report.ID]
	assert.Equal(t, models.ReportStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "no report recipient configured", *stored.ErrorMessage)
}

func TestReportDeliveryWorkerUnknownReport(t *testing.T) {
	f := newReportFixture(t)
	worker := NewReportDeliveryWorker(f.repo, f.exporter, reportSettingsStub{}, &senderStub{}, nil, 3, nil)
	assert.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "missing"}))
}
