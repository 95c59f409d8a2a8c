package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/service"
)

type MonitoringService interface {
	GetStatus() service.MonitoringStatus
	SetInterval(minutes int) error
	TriggerManualCheck(ctx context.Context) error
	ResumeFlight(ctx context.Context, flightID string) error
}

type MonitoringHandler struct {
	service MonitoringService
}

func NewMonitoringHandler(service MonitoringService) (*MonitoringHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("monitoring service is required")
	}
	return &MonitoringHandler{service: service}, nil
}

func RegisterMonitoringRoutes(router fiber.Router, service MonitoringService) error {
	h, err := NewMonitoringHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/monitoring")
	v1.Get("/status", h.GetStatus)
	v1.Put("/interval", h.SetInterval)
	v1.Post("/check", h.TriggerManualCheck)
	v1.Post("/flights/:id/resume", h.ResumeFlight)

	return nil
}

type setIntervalRequest struct {
	Minutes *int `json:"minutes"`
}

type intervalResponse struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

type actionResponse struct {
	Status   string `json:"status"`
	FlightID string `json:"flightId,omitempty"`
}

func (h *MonitoringHandler) GetStatus(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.service.GetStatus())
}

func (h *MonitoringHandler) SetInterval(c *fiber.Ctx) error {
	var req setIntervalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Minutes == nil {
		return toHTTPError(fmt.Errorf("%w: minutes is required", domain.ErrValidation))
	}

	if err := h.service.SetInterval(*req.Minutes); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(intervalResponse{IntervalMinutes: *req.Minutes})
}

func (h *MonitoringHandler) TriggerManualCheck(c *fiber.Ctx) error {
	if err := h.service.TriggerManualCheck(c.UserContext()); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(actionResponse{Status: "started"})
}

func (h *MonitoringHandler) ResumeFlight(c *fiber.Ctx) error {
	flightID := strings.TrimSpace(c.Params("id"))
	if flightID == "" {
		return toHTTPError(fmt.Errorf("%w: flight id is required", domain.ErrValidation))
	}

	if err := h.service.ResumeFlight(c.UserContext(), flightID); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(actionResponse{Status: "resumed", FlightID: flightID})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfigurationInvalid):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
