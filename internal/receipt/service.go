package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-tracker/internal/account"
	"github.com/zombor/expense-tracker/internal/apperr"
	"github.com/zombor/expense-tracker/internal/report"
	"github.com/zombor/expense-tracker/internal/scanning"
)

const (
	noReceiptsAnswer = "You don't have any receipts in the system yet. Upload some receipts to ask questions about them."
	apologyAnswer    = "Sorry, I encountered an error processing your request. Please try again."
)

// AllowedExtensions are the upload types accepted by UploadAndExtract
var AllowedExtensions = []string{".png", ".jpg", ".jpeg", ".pdf", ".heic", ".heif"}

var errExtraction = errors.New("receipt extraction failed")

// IDGenerator generates unique names for stored blobs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations on behalf of an actor
type Service struct {
	db          DB
	storage     Storage
	scanner     scanning.Scanner
	renderer    report.Renderer
	timeout     time.Duration
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// scanner may be nil, in which case extraction and chat report that no model
// is configured.
func NewService(db DB, storage Storage, scanner scanning.Scanner, renderer report.Renderer, timeout time.Duration) *Service {
	return NewServiceWithDeps(db, storage, scanner, renderer, timeout, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, scanner scanning.Scanner, renderer report.Renderer, timeout time.Duration, idGen IDGenerator, timeSrc TimeSource) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Service{
		db:          db,
		storage:     storage,
		scanner:     scanner,
		renderer:    renderer,
		timeout:     timeout,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// UploadAndExtract stores an uploaded receipt, runs OCR and field extraction
// on it and stages a draft for the uploader. The returned receipt is not
// persisted until SaveReceipt. The stored blob is removed if any step fails.
func (s *Service) UploadAndExtract(ctx context.Context, actor account.Actor, filename string, data []byte, contentType string) (*Receipt, error) {
	if filename == "" || len(data) == 0 {
		return nil, apperr.Validation("No file uploaded")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(AllowedExtensions, ext) {
		return nil, apperr.Validation("Invalid file type")
	}
	if s.scanner == nil {
		return nil, apperr.New(apperr.ErrNotConfigured, "LLM API key not set")
	}

	name := s.idGenerator.Generate() + ext
	if err := s.storage.Save(name, data); err != nil {
		return nil, fmt.Errorf("saving upload: %w", err)
	}

	receipt, err := s.extract(ctx, data, contentType, name)
	if err != nil {
		slog.Error("Failed to extract receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeBlob(name)
		return nil, err
	}

	draft := &Draft{
		ImageFilename: name,
		Owner:         actor.Username,
		ContentType:   contentType,
		CreatedAt:     s.timeSource.Now(),
	}
	if err := s.db.SaveDraft(draft); err != nil {
		s.removeBlob(name)
		return nil, fmt.Errorf("staging draft: %w", err)
	}
	return receipt, nil
}

func (s *Service) extract(ctx context.Context, data []byte, contentType, name string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.scanner.ExtractText(ctx, data, contentType)
	if err != nil {
		return nil, extractionError(ctx, err)
	}
	fields, err := s.scanner.ParseReceipt(ctx, text)
	if err != nil {
		return nil, extractionError(ctx, err)
	}
	return fromReceiptData(fields, name), nil
}

// extractionError keeps timeouts retryable and reports every other model
// failure as a plain server error.
func extractionError(ctx context.Context, err error) error {
	if timedOut(ctx, err) {
		return apperr.Wrap(apperr.ErrTimeout, err, "Receipt extraction timed out")
	}
	return apperr.Wrap(errExtraction, err, "Failed to extract receipt data")
}

// timedOut reports whether a model call failed because its deadline passed.
// Providers do not always wrap context.DeadlineExceeded (gRPC returns its own
// status error), so the call's context is checked as well.
func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// DiscardDraft drops an extracted upload that will not be saved
func (s *Service) DiscardDraft(actor account.Actor, filename string) error {
	draft, err := s.db.GetDraft(filename)
	if err != nil {
		return err
	}
	if draft.Owner != actor.Username {
		slog.Warn("Forbidden draft discard", "actor", actor.Username, "filename", filename)
		return apperr.Forbidden("Unauthorized")
	}
	if err := s.db.DeleteDraft(filename); err != nil {
		return err
	}
	s.removeBlob(filename)
	return nil
}

// SaveReceipt persists a reviewed draft as a submitted receipt owned by the
// actor. ProcessedAt and Status are assigned here whatever the payload says.
func (s *Service) SaveReceipt(actor account.Actor, payload Receipt) (*Receipt, error) {
	receipt := payload
	receipt.ProcessedAt = s.timeSource.Now().UTC().Format(ProcessedAtLayout)
	receipt.Status = StatusSubmitted
	if err := receipt.Validate(); err != nil {
		return nil, err
	}
	if err := s.db.Submit(actor.Username, &receipt); err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			slog.Warn("Forbidden receipt save", "actor", actor.Username, "filename", receipt.ImageFilename)
		}
		return nil, err
	}
	slog.Info("Receipt saved", "username", actor.Username, "processed_at", receipt.ProcessedAt)
	return &receipt, nil
}

// ListVisible returns the actor's visibility set
func (s *Service) ListVisible(actor account.Actor) ([]OwnedReceipt, error) {
	return Visible(s.db, actor)
}

// FetchBlob returns an uploaded file if it belongs to a receipt the actor can
// see, along with its content type.
func (s *Service) FetchBlob(actor account.Actor, filename string) ([]byte, string, error) {
	visible, err := Visible(s.db, actor)
	if err != nil {
		return nil, "", err
	}
	if !CanReadFile(visible, filename) {
		slog.Warn("Forbidden file access", "actor", actor.Username, "filename", filename)
		return nil, "", apperr.Forbidden("Unauthorized")
	}
	data, err := s.storage.Get(filename)
	if err != nil {
		return nil, "", err
	}
	return data, contentTypeOf(filename), nil
}

// UpdateStatus moves a receipt to a new review status
func (s *Service) UpdateStatus(actor account.Actor, owner, processedAt string, status Status) (*Receipt, error) {
	if owner == "" || processedAt == "" || status == "" {
		return nil, apperr.Validation("Missing required fields")
	}
	if !status.Valid() {
		return nil, apperr.Validation("Invalid status: %q", status)
	}
	if !Can(actor, ActionUpdateStatus, owner) {
		slog.Warn("Forbidden status update", "actor", actor.Username, "owner", owner)
		return nil, apperr.Forbidden("Unauthorized")
	}
	return s.db.UpdateReceipt(owner, processedAt, func(r *Receipt) error {
		r.Status = status
		return nil
	})
}

// UpdateReceipt overwrites a receipt's fields. ImageFilename, ProcessedAt and
// Status always keep their stored values. An empty owner means the actor.
func (s *Service) UpdateReceipt(actor account.Actor, owner string, payload Receipt) (*Receipt, error) {
	if owner == "" {
		owner = actor.Username
	}
	if payload.ProcessedAt == "" {
		return nil, apperr.Validation("Missing required fields")
	}
	if !Can(actor, ActionUpdateReceipt, owner) {
		slog.Warn("Forbidden receipt update", "actor", actor.Username, "owner", owner)
		return nil, apperr.Forbidden("Unauthorized")
	}
	return s.db.UpdateReceipt(owner, payload.ProcessedAt, func(r *Receipt) error {
		updated := payload
		updated.ImageFilename = r.ImageFilename
		updated.ProcessedAt = r.ProcessedAt
		updated.Status = r.Status
		if err := updated.Validate(); err != nil {
			return err
		}
		*r = updated
		return nil
	})
}

// DeleteReceipt removes a receipt and its uploaded file
func (s *Service) DeleteReceipt(actor account.Actor, owner, processedAt string) error {
	if owner == "" || processedAt == "" {
		return apperr.Validation("Missing required fields")
	}
	if !Can(actor, ActionDeleteReceipt, owner) {
		slog.Warn("Forbidden receipt delete", "actor", actor.Username, "owner", owner)
		return apperr.Forbidden("Unauthorized")
	}
	removed, err := s.db.DeleteReceipt(owner, processedAt)
	if err != nil {
		return err
	}
	s.removeBlob(removed.ImageFilename)
	return nil
}

// Chat answers a question using only the receipts the actor can see. Model
// failures produce an apology rather than an error.
func (s *Service) Chat(ctx context.Context, actor account.Actor, message string, history []scanning.Message) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", apperr.Validation("No message provided")
	}
	if s.scanner == nil {
		return "", apperr.New(apperr.ErrNotConfigured, "LLM API key not set")
	}

	visible, err := Visible(s.db, actor)
	if err != nil {
		return "", err
	}
	if len(visible) == 0 {
		return noReceiptsAnswer, nil
	}

	contextJSON, err := json.Marshal(visible)
	if err != nil {
		return "", fmt.Errorf("encoding receipt context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	answer, err := s.scanner.Answer(ctx, scanning.ChatRequest{
		Question:   message,
		History:    history,
		KnownUsers: owners(visible),
		Context:    string(contextJSON),
	})
	if err != nil {
		if timedOut(ctx, err) {
			err = apperr.Wrap(apperr.ErrTimeout, err, "Assistant timed out")
		} else {
			err = apperr.External(err, "answering question")
		}
		slog.Error("Assistant failed", "username", actor.Username, "error", err)
		return apologyAnswer, nil
	}
	return answer, nil
}

// TeamReport renders the supervisor's visibility set as a PDF, keeps a copy
// in blob storage and returns the document with its stored name.
func (s *Service) TeamReport(actor account.Actor) ([]byte, string, error) {
	if !CanGenerateTeamReport(actor) {
		slog.Warn("Forbidden team report", "actor", actor.Username, "role", actor.Role)
		return nil, "", apperr.Forbidden("Unauthorized")
	}
	visible, err := Visible(s.db, actor)
	if err != nil {
		return nil, "", err
	}

	rows := make([]report.Row, 0, len(visible))
	for _, r := range visible {
		rows = append(rows, report.Row{
			Username:  r.Username,
			Date:      r.Date,
			StoreName: r.StoreName,
			Category:  r.ExpenseCategory,
			Status:    string(r.Status),
			Total:     r.TotalPayment,
		})
	}

	doc, err := s.renderer.Render(fmt.Sprintf("Team Expense Report: %s", actor.Username), rows)
	if err != nil {
		return nil, "", fmt.Errorf("rendering team report: %w", err)
	}

	name := "report-" + s.idGenerator.Generate() + ".pdf"
	if err := s.storage.Save(name, doc); err != nil {
		return nil, "", fmt.Errorf("saving team report: %w", err)
	}
	return doc, name, nil
}

func (s *Service) removeBlob(name string) {
	if err := s.storage.Delete(name); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}

// owners lists the distinct owners in visible, first appearance first
func owners(visible []OwnedReceipt) []string {
	var names []string
	for _, r := range visible {
		if !slices.Contains(names, r.Username) {
			names = append(names, r.Username)
		}
	}
	return names
}

func contentTypeOf(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
