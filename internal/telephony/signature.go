package telephony

import (
	"net/http"
	"strings"

	"softphone-queue/pkg/logger"

	"github.com/gin-gonic/gin"
	twclient "github.com/twilio/twilio-go/client"
)

const signatureHeader = "X-Twilio-Signature"

// RequireTwilioSignature rejects webhook requests whose X-Twilio-Signature does not
// match the public URL and posted form. publicBaseURL must be the origin Twilio was
// configured with; the request path and query are appended to it.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	validator := twclient.NewRequestValidator(authToken)
	base := strings.TrimRight(publicBaseURL, "/")

	return func(c *gin.Context) {
		log := logger.FromGin(c)

		sig := c.GetHeader(signatureHeader)
		if sig == "" {
			log.Warn("webhook missing signature")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}

		url := base + c.Request.URL.RequestURI()
		if !validator.Validate(url, formParams(c.Request), sig) {
			log.Warn("webhook signature mismatch", "url", url)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
