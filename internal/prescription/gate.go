package prescription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// MaxUploadBytes caps uploaded prescription documents.
const MaxUploadBytes = 5 << 20

var (
	ErrInvalidPrescription = errors.New("invalid prescription")
	ErrAlreadyReviewed     = errors.New("prescription is not awaiting review")
	ErrInvalidVerdict      = errors.New("verdict must be verified or rejected")
)

var allowedContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

var tracer = otel.Tracer("github.com/hackgods/care-fulfillment/internal/prescription")

// Gate decides whether a prescription claim can back an order and owns the
// reference lifecycle.
type Gate struct {
	repo     Repository
	docs     DocumentStore
	validity time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewGate(repo Repository, docs DocumentStore, validity time.Duration, logger *zap.Logger) *Gate {
	if validity <= 0 {
		validity = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		repo:     repo,
		docs:     docs,
		validity: validity,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return g.repo.GetByID(ctx, id)
}

func (g *Gate) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Prescription, error) {
	return g.repo.ListByPatient(ctx, patientID)
}

// Resolve turns a claim into a reference the order can hold. Existing
// references must belong to the patient and be usable. Uploads are stored
// and recorded as pending review.
func (g *Gate) Resolve(ctx context.Context, patientID uuid.UUID, claim Claim) (*Prescription, error) {
	ctx, span := tracer.Start(ctx, "prescription.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("claim.kind", string(claim.Kind)))

	switch claim.Kind {
	case ClaimExisting:
		p, err := g.repo.GetByID(ctx, claim.PrescriptionID)
		if errors.Is(err, ErrPrescriptionNotFound) {
			return nil, fmt.Errorf("%w: %s not found", ErrInvalidPrescription, claim.PrescriptionID)
		}
		if err != nil {
			return nil, fmt.Errorf("load prescription: %w", err)
		}
		if p.PatientID != patientID {
			return nil, fmt.Errorf("%w: belongs to another patient", ErrInvalidPrescription)
		}
		if !p.Usable(g.now()) {
			return nil, fmt.Errorf("%w: status %s", ErrInvalidPrescription, p.Status)
		}
		return p, nil

	case ClaimUpload:
		return g.upload(ctx, patientID, claim.Document)

	default:
		return nil, fmt.Errorf("%w: unknown claim kind %q", ErrInvalidPrescription, claim.Kind)
	}
}

// Check runs the same acceptance rules as Resolve without storing anything.
// An accepted existing claim returns its reference; an accepted upload
// returns nil because no reference exists until Resolve records it.
func (g *Gate) Check(ctx context.Context, patientID uuid.UUID, claim Claim) (*Prescription, error) {
	switch claim.Kind {
	case ClaimExisting:
		return g.Resolve(ctx, patientID, claim)
	case ClaimUpload:
		_, _, err := sniffDocument(claim.Document)
		return nil, err
	default:
		return nil, fmt.Errorf("%w: unknown claim kind %q", ErrInvalidPrescription, claim.Kind)
	}
}

// sniffDocument enforces the size limit and returns the detected content
// type with its storage extension.
func sniffDocument(doc *Document) (string, string, error) {
	if doc == nil || len(doc.Data) == 0 {
		return "", "", fmt.Errorf("%w: empty document", ErrInvalidPrescription)
	}
	if len(doc.Data) > MaxUploadBytes {
		return "", "", fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidPrescription, MaxUploadBytes)
	}
	contentType := http.DetectContentType(doc.Data)
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported document type %s", ErrInvalidPrescription, contentType)
	}
	return contentType, ext, nil
}

func (g *Gate) upload(ctx context.Context, patientID uuid.UUID, doc *Document) (*Prescription, error) {
	contentType, ext, err := sniffDocument(doc)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	key := fmt.Sprintf("prescriptions/%s/%s%s", patientID, id, ext)
	if err := g.docs.Put(ctx, key, contentType, doc.Data); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	p, err := g.repo.Insert(ctx, Prescription{
		ID:          id,
		PatientID:   patientID,
		Kind:        KindUpload,
		Status:      StatusPendingReview,
		DocumentKey: &key,
		ContentType: &contentType,
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("prescription uploaded",
		zap.String("prescription_id", p.ID.String()),
		zap.String("patient_id", patientID.String()),
		zap.Int("bytes", len(doc.Data)),
	)
	return p, nil
}

// Review records the verification verdict on an uploaded document.
func (g *Gate) Review(ctx context.Context, id uuid.UUID, verdict Verdict) (*Prescription, error) {
	ctx, span := tracer.Start(ctx, "prescription.Review")
	defer span.End()

	var to Status
	switch verdict {
	case VerdictVerified:
		to = StatusVerified
	case VerdictRejected:
		to = StatusRejected
	default:
		return nil, ErrInvalidVerdict
	}

	p, err := g.repo.UpdateStatus(ctx, id, StatusPendingReview, to, g.now())
	if errors.Is(err, ErrPrescriptionNotFound) {
		if _, getErr := g.repo.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyReviewed
	}
	if err != nil {
		return nil, fmt.Errorf("review prescription: %w", err)
	}
	g.logger.Info("prescription reviewed",
		zap.String("prescription_id", id.String()),
		zap.String("status", string(p.Status)),
	)
	return p, nil
}

// IssueDigital records the prescription a doctor writes when completing a
// consultation.
func (g *Gate) IssueDigital(ctx context.Context, patientID, doctorID, appointmentID uuid.UUID, notes string) (*Prescription, error) {
	expires := g.now().Add(g.validity)
	p, err := g.repo.Insert(ctx, Prescription{
		PatientID:     patientID,
		Kind:          KindDigital,
		Status:        StatusActive,
		AppointmentID: &appointmentID,
		DoctorID:      &doctorID,
		Notes:         notes,
		ExpiresAt:     &expires,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ExpireDue flips lapsed digital prescriptions to expired.
func (g *Gate) ExpireDue(ctx context.Context) ([]Prescription, error) {
	expired, err := g.repo.ExpireDue(ctx, g.now())
	if err != nil {
		return nil, err
	}
	for _, p := range expired {
		g.logger.Info("prescription expired", zap.String("prescription_id", p.ID.String()))
	}
	return expired, nil
}
