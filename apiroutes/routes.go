package apiroutes

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/mailio/go-mailio-datawallet/api"
	restinterceptors "github.com/mailio/go-mailio-datawallet/api/interceptors"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/metrics"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// optional basic auth for a route group
func basicAuth(conf global.BasicAuthConfig) []gin.HandlerFunc {
	if conf.Username == "" {
		return nil
	}
	return []gin.HandlerFunc{gin.BasicAuth(gin.Accounts{conf.Username: conf.Password})}
}

// the consent UI is served from the origin of the consent base url
func consentCors(consentBaseUrl string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	u, err := url.Parse(consentBaseUrl)
	if err != nil || u.Scheme == "" || u.Host == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{u.Scheme + "://" + u.Host}
	}
	return cors.New(corsConfig)
}

// REST API routes
func ConfigRoutes(router *gin.Engine, pipeline *services.Pipeline, limiter *redis_rate.Limiter) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {

		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	// API definitions
	healthCheckApi := api.NewHealthCheckAPI()
	webhookApi := api.NewMailReceiveWebhook(pipeline.Processing)
	authorizationApi := api.NewAuthorizationApi(pipeline.Authorizations, pipeline.Processing)
	taskApi := api.NewTaskApi(pipeline.Processing, pipeline.Calculator)
	registrationApi := api.NewRegistrationApi(pipeline.Registrations)

	router.GET("/healthcheck", healthCheckApi.HealthCheck)

	// mail transport webhooks
	webhooks := router.Group("/webhook", append(basicAuth(global.Conf.Webhook), metrics.MetricsMiddleware())...)
	{
		webhooks.POST("/email", webhookApi.ReceiveEmail)
		webhooks.POST("/mime", webhookApi.ReceiveMime)
	}

	// PUBLIC API (consent links are bearer tokens)
	publicMiddleware := []gin.HandlerFunc{metrics.MetricsMiddleware(), consentCors(global.Conf.Authorization.ConsentBaseUrl)}
	if limiter != nil {
		publicMiddleware = append(publicMiddleware, restinterceptors.RateLimitMiddleware(limiter))
	}
	publicApi := router.Group("/api", publicMiddleware...)
	{
		publicApi.GET("/v1/authorization/:token", authorizationApi.GetAuthorization)
		publicApi.POST("/v1/authorization/:token/approve", authorizationApi.Approve)
		publicApi.POST("/v1/authorization/:token/reject", authorizationApi.Reject)
		publicApi.GET("/v1/credits", taskApi.EstimateCredits)
		// preflight requests of the consent UI, answered by the cors middleware
		publicApi.OPTIONS("/v1/authorization/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	adminApi := router.Group("/api", append(basicAuth(global.Conf.Admin), metrics.MetricsMiddleware())...)
	{
		adminApi.GET("/v1/tasks/:id", taskApi.GetTask)
		adminApi.POST("/v1/tasks/:id/cancel", taskApi.CancelTask)

		adminApi.PUT("/v1/registrations", registrationApi.SaveRegistration)
		adminApi.GET("/v1/registrations/:address", registrationApi.GetRegistration)
		adminApi.DELETE("/v1/registrations/:address", registrationApi.Deactivate)
		adminApi.GET("/v1/registrations/:address/whitelist", registrationApi.ListWhitelist)
		adminApi.POST("/v1/registrations/:address/whitelist", registrationApi.AddWhitelistEntry)
		adminApi.DELETE("/v1/registrations/:address/whitelist/:entry", registrationApi.RemoveWhitelistEntry)
	}

	return router
}
