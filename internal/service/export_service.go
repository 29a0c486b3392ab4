package service

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/pkg/export"
	"github.com/noah-isme/atb-stewardship-api/pkg/storage"
)

type fileStorage interface {
	Save(relPath string, data []byte) (string, error)
	Open(relPath string) (*os.File, error)
	ReadFile(relPath string) ([]byte, error)
	Delete(relPath string) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
}

// ReportArtifacts locates the rendered files of one report.
type ReportArtifacts struct {
	PDFPath string
	CSVPath string
}

// ExportService renders report datasets, stores the files and signs download links.
type ExportService struct {
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("")
	}
	return &ExportService{
		storage: files,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Store renders both formats and writes them under reports/<period>/.
// Re-storing a period overwrites its files.
func (s *ExportService) Store(period string, data export.Dataset) (*ReportArtifacts, error) {
	dir := path.Join("reports", sanitizeFilename(period))
	base := "stewardship_" + sanitizeFilename(period)

	pdfBytes, err := s.pdf.Render(data)
	if err != nil {
		return nil, fmt.Errorf("render report pdf: %w", err)
	}
	csvBytes, err := s.csv.Render(data)
	if err != nil {
		return nil, fmt.Errorf("render report csv: %w", err)
	}

	pdfPath, err := s.storage.Save(path.Join(dir, base+".pdf"), pdfBytes)
	if err != nil {
		return nil, err
	}
	csvPath, err := s.storage.Save(path.Join(dir, base+".csv"), csvBytes)
	if err != nil {
		_ = s.storage.Delete(pdfPath)
		return nil, err
	}
	s.logger.Debug("report artifacts stored",
		zap.String("period", period),
		zap.Int("pdf_bytes", len(pdfBytes)),
		zap.Int("csv_bytes", len(csvBytes)),
	)
	return &ReportArtifacts{PDFPath: pdfPath, CSVPath: csvPath}, nil
}

// SignedURL issues a download link for an artifact owned by reportID.
func (s *ExportService) SignedURL(reportID, relPath string) (string, time.Time, error) {
	if s.signer == nil {
		return "", time.Time{}, fmt.Errorf("download signing disabled")
	}
	token, expiresAt, err := s.signer.Generate(reportID, relPath)
	if err != nil {
		return "", time.Time{}, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/reports/monthly/download/%s", prefix, token), expiresAt, nil
}

// ParseToken validates a download token.
func (s *ExportService) ParseToken(token string) (reportID, relPath string, err error) {
	if s.signer == nil {
		return "", "", storage.ErrTokenInvalid
	}
	reportID, relPath, _, err = s.signer.Parse(token, false)
	return reportID, relPath, err
}

// Open returns a handle to a stored artifact.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// ReadFile loads a stored artifact into memory.
func (s *ExportService) ReadFile(relPath string) ([]byte, error) {
	return s.storage.ReadFile(relPath)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
