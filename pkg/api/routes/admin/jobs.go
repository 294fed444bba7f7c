package admin

import (
	"time"

	"github.com/valyala/fasthttp"

	"convodb/pkg/api/router"
	"convodb/pkg/state/logger"
	"convodb/pkg/timeutil"
)

var timeNow = func() time.Time { return timeutil.Now() }

// RunPresenceSweep clears stale online flags immediately.
func (h *Handlers) RunPresenceSweep(ctx *fasthttp.RequestCtx) {
	opCtx, cancel := router.OpContext()
	defer cancel()
	n, err := h.Chat.SweepPresence(opCtx)
	if err != nil {
		logger.Error("presence_sweep_failed", "error", err)
		router.WriteError(ctx, err)
		return
	}
	logger.AuditEvent("presence_sweep", "cleared", n, "trigger", "admin")
	_ = router.WriteJSON(ctx, sweepResponse{Cleared: n})
}
