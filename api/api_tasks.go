package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
)

type TaskApi struct {
	processingService *services.ProcessingService
	calculator        *services.CreditCalculator
}

func NewTaskApi(processingService *services.ProcessingService, calculator *services.CreditCalculator) *TaskApi {
	return &TaskApi{processingService: processingService, calculator: calculator}
}

// Get processing task
// @Summary Processing task with its log
// @Tags Tasks
// @Param id path string true "task id"
// @Success 200 {object} types.OutputTask
// @Failure 404 {object} api.ApiError "not found"
// @Produce json
// @Router /api/v1/tasks/{id} [get]
func (ta *TaskApi) GetTask(c *gin.Context) {
	task, err := ta.processingService.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewOutputTask(task))
}

// Cancel processing task
// @Summary Cancel a processing task
// @Description A running task stops at the next phase boundary. Cancelling a finished task has no effect.
// @Tags Tasks
// @Param id path string true "task id"
// @Success 200 {object} types.OutputTask
// @Failure 404 {object} api.ApiError "not found"
// @Produce json
// @Router /api/v1/tasks/{id}/cancel [post]
func (ta *TaskApi) CancelTask(c *gin.Context) {
	task, err := ta.processingService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewOutputTask(task))
}

// Credit estimate
// @Summary Credits charged for an email with n attachments
// @Tags Credits
// @Param attachments query int false "number of attachments"
// @Success 200 {object} types.CreditCalculation
// @Failure 400 {object} api.ApiError "bad request"
// @Produce json
// @Router /api/v1/credits [get]
func (ta *TaskApi) EstimateCredits(c *gin.Context) {
	attachments := 0
	if q := c.Query("attachments"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 || n > MaxAttachmentCount {
			ApiErrorf(c, http.StatusBadRequest, "attachments must be a number between 0 and %d", MaxAttachmentCount)
			return
		}
		attachments = n
	}
	c.JSON(http.StatusOK, ta.calculator.Calculate(attachments))
}
