package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/internal/repository"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/export"
	"github.com/noah-isme/atb-stewardship-api/pkg/jobs"
	"github.com/noah-isme/atb-stewardship-api/pkg/mailer"
)

// JobTypeReportMail identifies queued monthly report deliveries.
const JobTypeReportMail = "monthly-report-mail"

type monthlyReportStore interface {
	Save(ctx context.Context, report *models.MonthlyReport) error
	GetByID(ctx context.Context, id string) (*models.MonthlyReport, error)
	List(ctx context.Context, limit int) ([]models.MonthlyReport, error)
	Update(ctx context.Context, id string, params repository.UpdateMonthlyReportParams) error
	ListUndelivered(ctx context.Context, limit int) ([]models.MonthlyReport, error)
}

type reportPatientSource interface {
	List(ctx context.Context, filter models.PatientFilter) ([]models.Patient, int, error)
}

type reportCourseSource interface {
	ListByPatients(ctx context.Context, patientIDs []string) (map[string][]models.Course, error)
}

type reportSettingsSource interface {
	ReportSettings(ctx context.Context) (recipient, hospital string, err error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type reportArtifactStore interface {
	Store(period string, data export.Dataset) (*ReportArtifacts, error)
	SignedURL(reportID, relPath string) (string, time.Time, error)
	ParseToken(token string) (reportID, relPath string, err error)
	Open(relPath string) (*os.File, error)
	ReadFile(relPath string) ([]byte, error)
}

// MonthlyReportService builds the monthly stewardship report and hands it to the mail queue.
type MonthlyReportService struct {
	repo       monthlyReportStore
	patients   reportPatientSource
	courses    reportCourseSource
	calculator *TherapyCalculator
	settings   reportSettingsSource
	exporter   reportArtifactStore
	queue      jobDispatcher
	logger     *zap.Logger
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
}

// NewMonthlyReportService constructs the service. A nil queue disables mail delivery.
func NewMonthlyReportService(
	repo monthlyReportStore,
	patients reportPatientSource,
	courses reportCourseSource,
	calculator *TherapyCalculator,
	settings reportSettingsSource,
	exporter reportArtifactStore,
	queue jobDispatcher,
	logger *zap.Logger,
) *MonthlyReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonthlyReportService{
		repo:       repo,
		patients:   patients,
		courses:    courses,
		calculator: calculator,
		settings:   settings,
		exporter:   exporter,
		queue:      queue,
		logger:     logger,
	}
}

// Generate snapshots the census at now into the report of period (YYYY-MM), stores the
// artifacts and queues delivery. Regenerating a period replaces the earlier report.
func (s *MonthlyReportService) Generate(ctx context.Context, period string, now time.Time) (*models.MonthlyReport, error) {
	if _, err := time.Parse("2006-01", period); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "period must be YYYY-MM")
	}
	recipient, hospital, err := s.settings.ReportSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load report settings: %w", err)
	}
	patients, _, err := s.patients.List(ctx, models.PatientFilter{})
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	ids := make([]string, 0, len(patients))
	for _, patient := range patients {
		ids = append(ids, patient.ID)
	}
	courses, err := s.courses.ListByPatients(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}

	dataset, summary := buildReportDataset(hospital, period, now, patients, courses, s.calculator.Policy(ctx))
	artifacts, err := s.exporter.Store(period, dataset)
	if err != nil {
		return nil, fmt.Errorf("store report artifacts: %w", err)
	}

	report := &models.MonthlyReport{
		Period:    period,
		Status:    models.ReportStatusGenerated,
		PDFPath:   artifacts.PDFPath,
		CSVPath:   artifacts.CSVPath,
		Summary:   summary,
		CreatedAt: now,
	}
	if recipient != "" {
		report.Recipient = &recipient
	}
	if err := s.repo.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("save monthly report: %w", err)
	}
	s.dispatch(report)
	return report, nil
}

func (s *MonthlyReportService) dispatch(report *models.MonthlyReport) {
	if s.queue == nil {
		s.logger.Info("mail delivery disabled, report kept for download", zap.String("report_id", report.ID))
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: report.ID, Type: JobTypeReportMail}); err != nil {
		// the row stays GENERATED and RecoverUndelivered picks it up on the next start
		s.logger.Warn("failed to enqueue report delivery", zap.String("report_id", report.ID), zap.Error(err))
	}
}

// List returns recent reports with fresh download links.
func (s *MonthlyReportService) List(ctx context.Context, limit int) ([]dto.MonthlyReportResponse, error) {
	reports, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list monthly reports")
	}
	items := make([]dto.MonthlyReportResponse, 0, len(reports))
	for i := range reports {
		items = append(items, s.toResponse(&reports[i]))
	}
	return items, nil
}

func (s *MonthlyReportService) toResponse(report *models.MonthlyReport) dto.MonthlyReportResponse {
	resp := dto.MonthlyReportResponse{
		ID:          report.ID,
		Period:      report.Period,
		Status:      report.Status,
		Summary:     report.Summary,
		Attempts:    report.Attempts,
		DeliveredAt: report.DeliveredAt,
		CreatedAt:   report.CreatedAt,
	}
	if report.ErrorMessage != nil && *report.ErrorMessage != "" {
		resp.Error = report.ErrorMessage
	}
	if url, expiresAt, err := s.exporter.SignedURL(report.ID, report.PDFPath); err == nil {
		resp.DownloadURL = url
		resp.ExpiresAt = &expiresAt
	} else {
		s.logger.Warn("failed to sign report link", zap.String("report_id", report.ID), zap.Error(err))
	}
	if report.CSVPath != "" {
		if url, _, err := s.exporter.SignedURL(report.ID, report.CSVPath); err == nil {
			resp.CSVDownloadURL = url
		}
	}
	return resp
}

// ResolveDownload validates a token and opens the artifact it names.
func (s *MonthlyReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	reportID, relPath, err := s.exporter.ParseToken(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	report, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load monthly report")
	}
	if relPath != report.PDFPath && relPath != report.CSVPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "report file not available")
	}
	contentType := "application/pdf"
	if path.Ext(relPath) == ".csv" {
		contentType = "text/csv"
	}
	return &ReportDownload{File: file, Filename: path.Base(relPath), ContentType: contentType}, nil
}

// RecoverUndelivered requeues reports still waiting for mail (e.g. after process restart).
func (s *MonthlyReportService) RecoverUndelivered(ctx context.Context) {
	if s.queue == nil {
		return
	}
	pending, err := s.repo.ListUndelivered(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover undelivered reports", zap.Error(err))
		return
	}
	for _, report := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: report.ID, Type: JobTypeReportMail}); err != nil {
			s.logger.Warn("failed to requeue report delivery", zap.String("report_id", report.ID), zap.Error(err))
		}
	}
}

var reportHeaders = []string{
	"Patient", "Unit", "Sector", "Bed", "Course", "Category", "Start",
	"Day", "Remaining", "Urgency", "Authorization",
}

func buildReportDataset(hospital, period string, now time.Time, patients []models.Patient, courses map[string][]models.Course, policy TherapyPolicy) (export.Dataset, models.ReportSummary) {
	summary := models.ReportSummary{GeneratedAt: now, Patients: len(patients)}
	rows := make([][]string, 0)

	for _, patient := range patients {
		onTherapy := false
		for i := range courses[patient.ID] {
			course := &courses[patient.ID][i]
			if !course.Active() {
				continue
			}
			onTherapy = true
			summary.ActiveCourses++
			switch course.Authorization {
			case models.AuthorizationPending:
				summary.PendingReview++
			case models.AuthorizationRejected:
				summary.Rejected++
			}

			result := ComputeDay(course, policy.Rollover(patient.CareUnitClass), policy.DayLock, now)
			if result.Overdue() {
				summary.OverdueCourses++
			}
			if result.Known {
				summary.DaysOfTherapy += result.Day
			}
			rows = append(rows, []string{
				patient.Name,
				string(patient.CareUnitClass),
				patient.Sector,
				patient.Bed,
				course.Name,
				string(course.Category),
				formatDate(course.StartDate),
				formatDay(result, course.PlannedDurationDays),
				formatRemaining(result),
				string(result.Urgency),
				string(course.Authorization),
			})
		}
		if onTherapy {
			summary.PatientsOnTherapy++
		}
	}

	subtitle := make([]string, 0, 3)
	if hospital != "" {
		subtitle = append(subtitle, hospital)
	}
	subtitle = append(subtitle,
		"Period "+period,
		fmt.Sprintf("Generated %s (%s)", now.Format("2006-01-02 15:04"), now.Location()),
	)

	return export.Dataset{
		Title:    "Antimicrobial stewardship report",
		Subtitle: subtitle,
		Summary: []export.Field{
			{Label: "Patients", Value: strconv.Itoa(summary.Patients)},
			{Label: "Patients on therapy", Value: strconv.Itoa(summary.PatientsOnTherapy)},
			{Label: "Active courses", Value: strconv.Itoa(summary.ActiveCourses)},
			{Label: "Courses at or past planned duration", Value: strconv.Itoa(summary.OverdueCourses)},
			{Label: "Awaiting authorization", Value: strconv.Itoa(summary.PendingReview)},
			{Label: "Rejected, still active", Value: strconv.Itoa(summary.Rejected)},
			{Label: "Days of therapy", Value: strconv.Itoa(summary.DaysOfTherapy)},
		},
		Headers: reportHeaders,
		Rows:    rows,
	}, summary
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatDay(result models.DayResult, planned int) string {
	switch {
	case !result.Known:
		return "?"
	case result.SingleDose:
		return "single dose"
	default:
		return fmt.Sprintf("%d/%d", result.Day, planned)
	}
}

func formatRemaining(result models.DayResult) string {
	if result.DaysRemaining == nil {
		return "-"
	}
	return strconv.Itoa(*result.DaysRemaining)
}

// ReportDeliveryWorker mails generated reports picked from the job queue.
type ReportDeliveryWorker struct {
	repo       monthlyReportStore
	files      reportArtifactStore
	settings   reportSettingsSource
	sender     mailer.Sender
	now        func() time.Time
	logger     *zap.Logger
	maxRetries int
}

// NewReportDeliveryWorker constructs a worker. maxRetries should match the queue's.
func NewReportDeliveryWorker(repo monthlyReportStore, files reportArtifactStore, settings reportSettingsSource, sender mailer.Sender, now func() time.Time, maxRetries int, logger *zap.Logger) *ReportDeliveryWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportDeliveryWorker{
		repo:       repo,
		files:      files,
		settings:   settings,
		sender:     sender,
		now:        now,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle processes a queue job. Returning an error asks the queue to retry.
func (w *ReportDeliveryWorker) Handle(ctx context.Context, job jobs.Job) error {
	report, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Warn("report for delivery job not found", zap.String("report_id", job.ID))
			return nil
		}
		return err
	}
	if report.Status == models.ReportStatusDelivered {
		return nil
	}

	recipient, hospital, err := w.settings.ReportSettings(ctx)
	if err != nil {
		w.logger.Warn("report settings unavailable", zap.Error(err))
	}
	if report.Recipient != nil && *report.Recipient != "" {
		recipient = *report.Recipient
	}
	if recipient == "" {
		w.markFailed(ctx, report, report.Attempts, "no report recipient configured")
		return nil
	}

	msg, err := w.buildMessage(report, recipient, hospital)
	if err != nil {
		w.markFailed(ctx, report, report.Attempts, err.Error())
		return nil
	}

	attempts := report.Attempts + 1
	if err := w.sender.Send(ctx, msg); err != nil {
		reason := err.Error()
		if job.Attempt >= w.maxRetries {
			w.markFailed(ctx, report, attempts, reason)
		} else if updateErr := w.repo.Update(ctx, report.ID, repository.UpdateMonthlyReportParams{
			Attempts:     &attempts,
			ErrorMessage: &reason,
		}); updateErr != nil {
			w.logger.Warn("failed to record delivery attempt", zap.String("report_id", report.ID), zap.Error(updateErr))
		}
		return err
	}

	delivered := models.ReportStatusDelivered
	deliveredAt := w.now()
	clear := ""
	if err := w.repo.Update(ctx, report.ID, repository.UpdateMonthlyReportParams{
		Status:       &delivered,
		Attempts:     &attempts,
		DeliveredAt:  &deliveredAt,
		ErrorMessage: &clear,
	}); err != nil {
		w.logger.Warn("failed to mark report delivered", zap.String("report_id", report.ID), zap.Error(err))
		return nil
	}
	w.logger.Info("monthly report delivered", zap.String("report_id", report.ID), zap.String("period", report.Period))
	return nil
}

func (w *ReportDeliveryWorker) buildMessage(report *models.MonthlyReport, recipient, hospital string) (mailer.Message, error) {
	pdfBytes, err := w.files.ReadFile(report.PDFPath)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("read report pdf: %w", err)
	}
	attachments := []mailer.Attachment{{Name: path.Base(report.PDFPath), Data: pdfBytes}}
	if report.CSVPath != "" {
		if csvBytes, err := w.files.ReadFile(report.CSVPath); err == nil {
			attachments = append(attachments, mailer.Attachment{Name: path.Base(report.CSVPath), Data: csvBytes})
		}
	}

	subject := "Antimicrobial stewardship report " + report.Period
	if hospital != "" {
		subject = hospital + " - " + subject
	}
	summary := report.Summary
	body := fmt.Sprintf(
		"Monthly antimicrobial stewardship report for %s.\n\n"+
			"Patients: %d\nPatients on therapy: %d\nActive courses: %d\n"+
			"Courses at or past planned duration: %d\nAwaiting authorization: %d\nDays of therapy: %d\n",
		report.Period, summary.Patients, summary.PatientsOnTherapy, summary.ActiveCourses,
		summary.OverdueCourses, summary.PendingReview, summary.DaysOfTherapy,
	)
	return mailer.Message{
		To:          []string{recipient},
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
	}, nil
}

func (w *ReportDeliveryWorker) markFailed(ctx context.Context, report *models.MonthlyReport, attempts int, reason string) {
	failed := models.ReportStatusFailed
	if err := w.repo.Update(ctx, report.ID, repository.UpdateMonthlyReportParams{
		Status:       &failed,
		Attempts:     &attempts,
		ErrorMessage: &reason,
	}); err != nil {
		w.logger.Warn("failed to mark report failed", zap.String("report_id", report.ID), zap.Error(err))
	}
	w.logger.Error("monthly report delivery failed",
		zap.String("report_id", report.ID),
		zap.String("period", report.Period),
		zap.String("reason", reason),
	)
}
