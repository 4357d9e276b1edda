package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
)

type RegistrationApi struct {
	registrationService *services.RegistrationService
	validate            *validator.Validate
}

func NewRegistrationApi(registrationService *services.RegistrationService) *RegistrationApi {
	return &RegistrationApi{registrationService: registrationService, validate: validator.New()}
}

// Create or update registration
// @Summary Create or update the registration of a wallet address
// @Tags Registration
// @Accept json
// @Produce json
// @Param registration body types.InputRegistration true "registration"
// @Success 200 {object} types.UserRegistration
// @Failure 400 {object} api.ApiError "bad request"
// @Failure 409 {object} api.ApiError "email registered to another wallet"
// @Router /api/v1/registrations [put]
func (ra *RegistrationApi) SaveRegistration(c *gin.Context) {
	var input types.InputRegistration
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid registration: %s", err.Error())
		return
	}
	if err := ra.validate.Struct(input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "%s", validationMessage(err))
		return
	}
	reg, err := ra.registrationService.SaveRegistration(c.Request.Context(), &input)
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// Get registration
// @Summary Registration of a wallet address with its counters
// @Tags Registration
// @Param address path string true "wallet address"
// @Success 200 {object} types.UserRegistration
// @Failure 404 {object} api.ApiError "not found"
// @Produce json
// @Router /api/v1/registrations/{address} [get]
func (ra *RegistrationApi) GetRegistration(c *gin.Context) {
	reg, err := ra.registrationService.FindByWalletAddress(c.Request.Context(), c.Param("address"))
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// Deactivate registration
// @Summary Deactivate a registration (counters are kept)
// @Tags Registration
// @Param address path string true "wallet address"
// @Success 200 {object} types.UserRegistration
// @Failure 404 {object} api.ApiError "not found"
// @Produce json
// @Router /api/v1/registrations/{address} [delete]
func (ra *RegistrationApi) Deactivate(c *gin.Context) {
	reg, err := ra.registrationService.Deactivate(c.Request.Context(), c.Param("address"))
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// List whitelist
// @Summary Active whitelist entries of a wallet address
// @Tags Registration
// @Param address path string true "wallet address"
// @Success 200 {array} types.WhitelistEntry
// @Produce json
// @Router /api/v1/registrations/{address}/whitelist [get]
func (ra *RegistrationApi) ListWhitelist(c *gin.Context) {
	entries, err := ra.registrationService.ListWhitelist(c.Request.Context(), c.Param("address"))
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Add whitelist entry
// @Summary Accept emails from an address or domain
// @Tags Registration
// @Accept json
// @Produce json
// @Param address path string true "wallet address"
// @Param entry body types.InputWhitelistEntry true "email address or domain"
// @Success 200 {object} types.WhitelistEntry
// @Failure 400 {object} api.ApiError "bad request"
// @Failure 404 {object} api.ApiError "registration not found"
// @Router /api/v1/registrations/{address}/whitelist [post]
func (ra *RegistrationApi) AddWhitelistEntry(c *gin.Context) {
	var input types.InputWhitelistEntry
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid whitelist entry: %s", err.Error())
		return
	}
	if err := ra.validate.Struct(input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "%s", validationMessage(err))
		return
	}
	entry, err := ra.registrationService.SaveWhitelistEntry(c.Request.Context(), c.Param("address"), &input)
	if err != nil {
		ApiDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Remove whitelist entry
// @Summary Stop accepting emails from an address or domain
// @Tags Registration
// @Param address path string true "wallet address"
// @Param entry path string true "email address or domain"
// @Success 204
// @Failure 404 {object} api.ApiError "not found"
// @Router /api/v1/registrations/{address}/whitelist/{entry} [delete]
func (ra *RegistrationApi) RemoveWhitelistEntry(c *gin.Context) {
	if err := ra.registrationService.RemoveWhitelistEntry(c.Request.Context(), c.Param("address"), c.Param("entry")); err != nil {
		ApiDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
