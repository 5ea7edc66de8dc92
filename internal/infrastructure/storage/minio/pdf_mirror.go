package minio

import (
	"context"
	"net/http"
	"time"

	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

// PDFMirror opportunistically copies a paper's open-access PDF into
// object storage during the Resolver's persistence fan-out.  Failures
// are reported back and logged by the caller; the mirror never blocks or
// fails a paper response.
type PDFMirror struct {
	storage ObjectStorageRepository
	bucket  string
	http    *http.Client
	logger  logging.Logger
}

// NewPDFMirror builds the mirror against the configured PDFs bucket.
func NewPDFMirror(storage ObjectStorageRepository, bucket string, log logging.Logger) *PDFMirror {
	return &PDFMirror{
		storage: storage,
		bucket:  bucket,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  log.Named("pdf-mirror"),
	}
}

// maxPDFBytes bounds a single mirrored artifact whose size the host
// declares; a response without Content-Length is streamed unchecked.
const maxPDFBytes = 64 << 20

// PaperPersisted implements the Resolver's persist hook: when the record
// advertises an open-access PDF and the object is not yet mirrored, the
// bytes are streamed into the PDFs bucket under paper_id.pdf.
func (m *PDFMirror) PaperPersisted(ctx context.Context, paperID string, record map[string]any) error {
	pdf, ok := record["openAccessPdf"].(map[string]any)
	if !ok {
		return nil
	}
	pdfURL, _ := pdf["url"].(string)
	if pdfURL == "" {
		return nil
	}

	objectKey := paperID + ".pdf"
	if exists, err := m.storage.Exists(ctx, m.bucket, objectKey); err == nil && exists {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "failed to build pdf request")
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "pdf download failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrCodeTransport, "pdf host returned non-200").
			WithDetail(pdfURL)
	}

	size := resp.ContentLength
	if size > maxPDFBytes {
		m.logger.Info("skipping oversized pdf",
			logging.String("paper_id", paperID), logging.Int64("bytes", size))
		return nil
	}

	_, err = m.storage.UploadStream(ctx, &StreamUploadRequest{
		Bucket:      m.bucket,
		ObjectKey:   objectKey,
		Reader:      resp.Body,
		Size:        size,
		ContentType: "application/pdf",
		Metadata:    map[string]string{"source_url": pdfURL},
	})
	if err != nil {
		return err
	}
	m.logger.Info("mirrored open-access pdf",
		logging.String("paper_id", paperID), logging.String("object_key", objectKey))
	return nil
}
