package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/docuprompt/api/internal/queue"
	"github.com/docuprompt/api/pkg/response"
)

type QueueHandler struct {
	queue queue.Queue
}

func NewQueueHandler(q queue.Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Stats handles GET /api/queues
func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.queue.Stats(c.Context())
	if err != nil {
		return response.ServiceError(c, "Failed to read queue stats")
	}

	return response.OK(c, fiber.Map{
		"partitions": stats,
	})
}

// Job handles GET /api/jobs/:partition/:jobId
func (h *QueueHandler) Job(c *fiber.Ctx) error {
	partition := queue.Partition(c.Params("partition"))
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	info, err := h.queue.Lookup(c.Context(), partition, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) || errors.Is(err, queue.ErrUnknownPartition) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to look up job")
	}

	return response.OK(c, info)
}
