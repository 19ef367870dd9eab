package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/socialsapp/socials-service/internal/config"
)

func NewRouter(d Deps, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, d)
	return r
}
