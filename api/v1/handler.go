// Package v1 holds the HTTP handlers for the redirect and scan endpoints.
package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"scanly/internal/apperrors"
	"scanly/internal/qrcodes"
	"scanly/internal/redirect"
	"scanly/internal/scans"
)

const (
	msgQRCodeNotFound      = "QR Code not found"
	msgInternalServerError = "Internal Server Error"
	errInvalidQRCodeID     = "Invalid QR code ID"
)

// ScanReader serves the read side of /api/scans.
type ScanReader interface {
	GetScan(ctx context.Context, id uint) (*scans.Scan, error)
	FindScans(ctx context.Context, filter scans.ListFilter) (*scans.Page, error)
}

// Dependencies are the collaborators a Handler needs.
type Dependencies struct {
	Logger     *slog.Logger
	Resolver   *redirect.Resolver
	QRCodes    scans.QRCodeLookup
	Scans      ScanReader
	Aggregator *scans.Aggregator
	Recorder   *scans.Recorder
}

// Handler serves /r/:shortCode and /api/scans.
type Handler struct {
	logger     *slog.Logger
	resolver   *redirect.Resolver
	qrcodes    scans.QRCodeLookup
	scans      ScanReader
	aggregator *scans.Aggregator
	recorder   *scans.Recorder
	validate   *validator.Validate
}

// NewHandler creates a new Handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		logger:     deps.Logger,
		resolver:   deps.Resolver,
		qrcodes:    deps.QRCodes,
		scans:      deps.Scans,
		aggregator: deps.Aggregator,
		recorder:   deps.Recorder,
		validate:   newValidator(),
	}
}

// requestLogger tags log lines with the request id set by the requestid middleware.
func (h *Handler) requestLogger(c *fiber.Ctx) *slog.Logger {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return h.logger.With(slog.String("request_id", id))
	}
	return h.logger
}

// handleError maps a pipeline error to a JSON error response.
func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	var validationErr *apperrors.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Message,
			"code":  validationErr.Code,
		})
	}

	var notFound *apperrors.NotFoundError
	if errors.As(err, &notFound) {
		code := apperrors.CodeQRCodeNotFound
		if notFound.Resource == "scan" {
			code = apperrors.CodeScanNotFound
		}
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": notFound.Error(),
			"code":  code,
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	h.requestLogger(c).Error("Request failed",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Any("error", err))
	return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": msgInternalServerError,
		"code":  apperrors.CodeInternal,
	})
}

// RedirectHandler records a scan and redirects to the QR code's destination.
func (h *Handler) RedirectHandler(c *fiber.Ctx) error {
	decision, err := h.resolver.Resolve(c.UserContext(), redirectRequest(c))
	if err != nil {
		c.Type("txt", "utf-8")

		var notFound *apperrors.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(http.StatusNotFound).SendString(msgQRCodeNotFound)
		}

		h.requestLogger(c).Error("Redirect failed",
			slog.String("short_code", c.Params("shortCode")),
			slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).SendString(msgInternalServerError)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Redirect(decision.Location, http.StatusFound)
}

// GetScansHandler serves GET /api/scans: a QR code's analytics summary
// (?qrCodeId=&analytics=true), a single scan (?id=) or a page of a QR code's
// scans. The summary wins when a request names both.
func (h *Handler) GetScansHandler(c *fiber.Ctx) error {
	rawQRCodeID := c.Query("qrCodeId")

	if rawQRCodeID != "" && c.QueryBool("analytics") {
		qrCodeID, err := parseQueryQRCodeID(rawQRCodeID)
		if err != nil {
			return h.handleError(c, err)
		}
		summary, err := h.aggregator.Summarize(c.UserContext(), qrCodeID)
		if err != nil {
			return h.handleError(c, err)
		}
		return c.JSON(summary)
	}

	if rawID := c.Query("id"); rawID != "" {
		id, err := parseID(rawID)
		if err != nil {
			return h.handleError(c, apperrors.NewValidationError(apperrors.CodeInvalidID, "Invalid scan ID"))
		}
		scan, err := h.scans.GetScan(c.UserContext(), id)
		if err != nil {
			return h.handleError(c, err)
		}
		return c.JSON(scan)
	}

	if rawQRCodeID == "" {
		return h.handleError(c, apperrors.NewValidationError(apperrors.CodeMissingQuery,
			"Either id or qrCodeId query parameter is required"))
	}
	qrCodeID, err := parseQueryQRCodeID(rawQRCodeID)
	if err != nil {
		return h.handleError(c, err)
	}

	filter, err := listFilterFromQuery(c, qrCodeID)
	if err != nil {
		return h.handleError(c, err)
	}
	page, err := h.scans.FindScans(c.UserContext(), filter)
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(page)
}

// CreateScanHandler records a scan submitted directly through the API.
func (h *Handler) CreateScanHandler(c *fiber.Ctx) error {
	var params CreateScanParams
	if err := c.BodyParser(&params); err != nil {
		h.requestLogger(c).Debug("Failed to parse scan body", slog.Any("error", err))
		return h.handleError(c, apperrors.NewValidationError(apperrors.CodeInvalidRequestBody, "Invalid request body"))
	}

	input, err := h.validateCreateScan(params)
	if err != nil {
		return h.handleError(c, err)
	}

	if _, err := h.qrcodes.GetQRCodeByID(c.UserContext(), input.QRCodeID); err != nil {
		var notFound *apperrors.NotFoundError
		if errors.As(err, &notFound) {
			return h.handleError(c, apperrors.NewValidationError(apperrors.CodeQRCodeNotFound, msgQRCodeNotFound))
		}
		return h.handleError(c, err)
	}

	scan, err := scans.NewManualScan(input)
	if err != nil {
		return h.handleError(c, err)
	}

	saved, err := h.recorder.Record(c.UserContext(), scan, scans.SourceManual)
	if err != nil {
		return h.handleError(c, err)
	}

	h.requestLogger(c).Info("Recorded manual scan",
		slog.Uint64("scan_id", uint64(saved.ID)),
		slog.Uint64("qr_code_id", uint64(saved.QRCodeID)))
	return c.Status(http.StatusCreated).JSON(saved)
}

// compile-time check that the gorm repository serves the read side
var _ ScanReader = (*scans.Repository)(nil)

// compile-time check that the gorm repository serves QR code lookups
var _ scans.QRCodeLookup = (*qrcodes.Repository)(nil)
