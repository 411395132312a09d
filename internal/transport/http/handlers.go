// internal/transport/http/handlers.go
package http

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"bankroll-service/internal/sync"
	"bankroll-service/pkg/models"
)

type Handler struct {
	orchestrator *sync.Orchestrator
	mappings     *sync.MappingStore
	sheets       sync.Spreadsheet
}

func NewHandler(orchestrator *sync.Orchestrator, mappings *sync.MappingStore, sheets sync.Spreadsheet) *Handler {
	return &Handler{orchestrator: orchestrator, mappings: mappings, sheets: sheets}
}

// ListSheets returns the tabs of the configured spreadsheet.
func (h *Handler) ListSheets(c *fiber.Ctx) error {
	infos, err := h.sheets.ListSheets(c.Context())
	if err != nil {
		log.Printf("❌ [SHEETS] List failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to list sheets"})
	}
	return c.JSON(fiber.Map{"sheets": infos})
}

// GetMappings returns every configured sheet mapping.
func (h *Handler) GetMappings(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"mappings": h.mappings.All()})
}

type mappingRequest struct {
	SheetName      string                 `json:"sheet_name"`
	TableName      string                 `json:"table_name"`
	Direction      models.SyncDirection   `json:"direction"`
	Enabled        *bool                  `json:"enabled"`
	ColumnMappings []models.ColumnMapping `json:"column_mappings"`
}

// UpsertMapping replaces (or creates) the mapping for one sheet as a whole
// object. Column mappings are never merged field-by-field.
func (h *Handler) UpsertMapping(c *fiber.Ctx) error {
	var req mappingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.SheetName == "" || req.TableName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sheet_name and table_name are required"})
	}
	switch req.Direction {
	case "":
		req.Direction = models.DirectionRead
	case models.DirectionRead, models.DirectionWrite, models.DirectionBidirectional:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "direction must be read, write or bidirectional"})
	}

	mapping := models.SheetMapping{
		SheetName: req.SheetName,
		TableName: req.TableName,
		Direction: req.Direction,
		Enabled:   true,
	}
	if req.Enabled != nil {
		mapping.Enabled = *req.Enabled
	}
	if existing, ok := h.mappings.Get(req.SheetName); ok {
		mapping.LastSyncAt = existing.LastSyncAt
		mapping.CreatedAt = existing.CreatedAt
	}
	if err := mapping.SetColumns(req.ColumnMappings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid column mappings"})
	}

	if err := h.mappings.Upsert(c.Context(), mapping); err != nil {
		log.Printf("❌ [MAPPINGS] Upsert %q failed: %v", req.SheetName, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save mapping"})
	}
	log.Printf("✅ [MAPPINGS] Saved mapping %q → %q (%s)", req.SheetName, req.TableName, req.Direction)
	return c.JSON(fiber.Map{"status": "saved", "mapping": mapping})
}

// DeleteMapping removes the mapping for one sheet.
func (h *Handler) DeleteMapping(c *fiber.Ctx) error {
	sheet := c.Params("sheet")
	if err := h.mappings.Remove(c.Context(), sheet); err != nil {
		log.Printf("❌ [MAPPINGS] Delete %q failed: %v", sheet, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete mapping"})
	}
	return c.JSON(fiber.Map{"status": "deleted", "sheet_name": sheet})
}

// GetStatus returns the process-wide sync status.
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.orchestrator.Status())
}
