// internal/transport/http/sync.go
package http

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"bankroll-service/internal/sync"
)

// PreviewSync runs a read-sync for one sheet up to the confirmation gate.
// A sheet without a confirmed column mapping answers 409 mapping_required
// with the auto-detected proposal for the reviewer to complete.
func (h *Handler) PreviewSync(c *fiber.Ctx) error {
	sheet := c.Params("sheet")
	preview, err := h.orchestrator.PreviewSheet(c.Context(), sheet)
	if err != nil {
		var mre *sync.MappingRequiredError
		switch {
		case errors.As(err, &mre):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"mapping_required": true,
				"sheet_name":       mre.SheetName,
				"detected":         mre.Detected,
			})
		case errors.Is(err, sync.ErrSyncInProgress):
			return c.Status(fiber.StatusLocked).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, sync.ErrMappingNotConfigured):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("❌ [SYNC] Preview %q failed: %v", sheet, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "sync preview failed"})
	}
	return c.JSON(preview)
}

type confirmRequest struct {
	PreviewID    string `json:"preview_id"`
	ApplyDeletes bool   `json:"apply_deletes"`
}

// ConfirmSync applies a parked preview. Deletions implied by the diff run
// only when apply_deletes is set.
func (h *Handler) ConfirmSync(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.PreviewID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "preview_id required"})
	}

	result, err := h.orchestrator.Confirm(c.Context(), req.PreviewID, req.ApplyDeletes)
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrPreviewNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, sync.ErrSyncInProgress):
			return c.Status(fiber.StatusLocked).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("❌ [SYNC] Confirm %s failed: %v", req.PreviewID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync apply failed"})
	}
	return c.JSON(result)
}

type cancelRequest struct {
	PreviewID string `json:"preview_id"`
}

// CancelSync discards a parked preview without touching the destination.
func (h *Handler) CancelSync(c *fiber.Ctx) error {
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if !h.orchestrator.Cancel(req.PreviewID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "preview not found or already consumed"})
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

// WriteSync pushes the destination snapshot to one sheet (clear-then-write).
func (h *Handler) WriteSync(c *fiber.Ctx) error {
	sheet := c.Params("sheet")
	result, err := h.orchestrator.WriteSheet(c.Context(), sheet)
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrWriteNotPermitted):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, sync.ErrSyncInProgress):
			return c.Status(fiber.StatusLocked).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, sync.ErrMappingNotConfigured):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("❌ [SYNC] Write-sync %q failed: %v", sheet, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "write-sync failed"})
	}
	return c.JSON(result)
}

// SyncAll runs every enabled mapping. Partial results are returned when the
// batch halts on a sheet that still needs a confirmed mapping.
func (h *Handler) SyncAll(c *fiber.Ctx) error {
	results, err := h.orchestrator.SyncAll(c.Context())
	if err != nil {
		var mre *sync.MappingRequiredError
		switch {
		case errors.As(err, &mre):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"mapping_required": true,
				"sheet_name":       mre.SheetName,
				"results":          results,
			})
		case errors.Is(err, sync.ErrSyncInProgress):
			return c.Status(fiber.StatusLocked).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("❌ [SYNC] Batch sync failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "batch sync failed",
			"results": results,
		})
	}
	return c.JSON(fiber.Map{"results": results})
}

type autoSyncRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// StartAutoSync (re)schedules the unattended sync timer.
func (h *Handler) StartAutoSync(c *fiber.Ctx) error {
	var req autoSyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.IntervalSeconds <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "interval_seconds must be positive"})
	}
	h.orchestrator.StartAutoSync(time.Duration(req.IntervalSeconds) * time.Second)
	return c.JSON(fiber.Map{"status": "started", "interval_seconds": req.IntervalSeconds})
}

// StopAutoSync cancels the timer. Idempotent.
func (h *Handler) StopAutoSync(c *fiber.Ctx) error {
	h.orchestrator.StopAutoSync()
	return c.JSON(fiber.Map{"status": "stopped"})
}
