package main

import (
	"net/http"

	"softphone-queue/internal/httpapi"
	"softphone-queue/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, api httpapi.Handlers, hooks telephony.WebhookHandler, ws http.Handler, webhookMW ...gin.HandlerFunc) {
	// public
	r.GET("/healthz", api.Health)
	r.GET("/ws", gin.WrapH(ws))

	// Static TwiML loops fetched by Twilio while callers wait.
	for path, render := range map[string]func() (string, error){
		telephony.PathHoldMusic:    telephony.HoldMusicTwiML,
		telephony.PathWaitForAgent: telephony.WaitForAgentTwiML,
		telephony.PathResumeCall:   telephony.ResumeCallTwiML,
	} {
		h := telephony.StaticTwiML(render)
		r.GET(path, h)
		r.POST(path, h)
	}

	// Provider webhooks. Signature validation is attached by main when enabled.
	webhooks := r.Group("/api")
	webhooks.Use(webhookMW...)
	{
		webhooks.POST("/incoming-call", hooks.HandleIncomingCall)
		webhooks.POST("/webhooks/call-status", hooks.HandleCallStatus)
		webhooks.POST("/join-conference", hooks.HandleJoinConference)
	}

	// agent API
	agent := r.Group("/api")
	{
		agent.GET("/queue", api.ListQueue)
		agent.POST("/call-control", api.CallControl)
		agent.GET("/calls/:callSid/events", api.CallHistory)
		agent.GET("/reports/queue-summary", api.QueueSummary)
		agent.GET("/twilio-token", api.VoiceToken)
	}
}
