package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
)

type AuthorizationApi struct {
	authorizationService *services.AuthorizationService
	processingService    *services.ProcessingService
}

func NewAuthorizationApi(authorizationService *services.AuthorizationService, processingService *services.ProcessingService) *AuthorizationApi {
	return &AuthorizationApi{
		authorizationService: authorizationService,
		processingService:    processingService,
	}
}

// Get consent request summary
// @Summary Consent request summary
// @Description Returns what will be created (and charged) if the owner approves
// @Tags Authorization
// @Param token path string true "consent token"
// @Success 200 {object} types.OutputAuthorization
// @Failure 404 {object} api.ApiError "not found"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Produce json
// @Router /api/v1/authorization/{token} [get]
func (aa *AuthorizationApi) GetAuthorization(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		ApiErrorf(c, http.StatusBadRequest, "token is required")
		return
	}
	request, err := aa.authorizationService.GetByToken(c.Request.Context(), token)
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, &types.OutputAuthorization{
		TaskID:           request.TaskID,
		ExpiresAt:        request.ExpiresAt,
		Expired:          aa.authorizationService.IsExpired(request),
		Consumed:         request.Consumed,
		EstimatedCredits: request.EstimatedCredits,
		Summary:          request.Summary,
	})
}

// Approve consent request
// @Summary Approve a consent request
// @Description Consumes the single use token and continues processing in the background
// @Tags Authorization
// @Param token path string true "consent token"
// @Success 200 {object} types.OutputTask
// @Failure 404 {object} api.ApiError "not found"
// @Failure 409 {object} api.ApiError "already consumed"
// @Failure 410 {object} api.ApiError "expired"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Produce json
// @Router /api/v1/authorization/{token}/approve [post]
func (aa *AuthorizationApi) Approve(c *gin.Context) {
	task, err := aa.processingService.Authorize(c.Request.Context(), c.Param("token"))
	if err != nil {
		level.Warn(global.Logger).Log("msg", "authorization failed", "error", err)
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewOutputTask(task))
}

// Reject consent request
// @Summary Reject a consent request
// @Description Consumes the single use token and cancels the task
// @Tags Authorization
// @Param token path string true "consent token"
// @Success 200 {object} types.OutputTask
// @Failure 404 {object} api.ApiError "not found"
// @Failure 409 {object} api.ApiError "already consumed"
// @Failure 410 {object} api.ApiError "expired"
// @Produce json
// @Router /api/v1/authorization/{token}/reject [post]
func (aa *AuthorizationApi) Reject(c *gin.Context) {
	task, err := aa.processingService.Reject(c.Request.Context(), c.Param("token"))
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewOutputTask(task))
}
