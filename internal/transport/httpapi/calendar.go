package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"appointly/backend/internal/calendarsync"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/service/schedule"
)

const dateLayout = "2006-01-02"

func (h *handler) availability(c *gin.Context) {
	start, err := time.Parse(dateLayout, c.Query("start"))
	if err != nil {
		badRequest(c, "start must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(dateLayout, c.Query("end"))
	if err != nil {
		badRequest(c, "end must be YYYY-MM-DD")
		return
	}
	duration, err := strconv.Atoi(c.DefaultQuery("duration", "30"))
	if err != nil {
		badRequest(c, "duration must be a number of minutes")
		return
	}

	slots, err := h.avail.ComputeSlots(c.Request.Context(), c.Param("id"), start, end, duration)
	if err != nil {
		respondError(c, h.log, "availability", err)
		return
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Format(time.RFC3339))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) getSchedule(c *gin.Context) {
	rows, err := h.schedule.WeeklyHours(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, h.log, "get_schedule", err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(rows))
}

func (h *handler) putSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed schedule: "+err.Error())
		return
	}
	in := schedule.ReplaceInput{Timezone: req.Timezone, Days: make([]schedule.DayHours, 0, len(req.Days))}
	for _, d := range req.Days {
		in.Days = append(in.Days, schedule.DayHours{
			DayOfWeek:  d.DayOfWeek,
			StartTime:  d.StartTime,
			EndTime:    d.EndTime,
			BreakStart: d.BreakStart,
			BreakEnd:   d.BreakEnd,
		})
	}

	rows, err := h.schedule.ReplaceWeeklyHours(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		respondError(c, h.log, "put_schedule", err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(rows))
}

func (h *handler) createBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed block: "+err.Error())
		return
	}
	b, err := h.schedule.CreateBlock(c.Request.Context(), actorFrom(c), schedule.BlockInput{
		StartDateTime: req.StartDateTime,
		EndDateTime:   req.EndDateTime,
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(c, h.log, "create_block", err)
		return
	}
	c.JSON(http.StatusOK, toBlockResponse(b))
}

func (h *handler) listBlocks(c *gin.Context) {
	from, to, ok := window(c)
	if !ok {
		return
	}
	blocks, err := h.schedule.ListBlocks(c.Request.Context(), actorFrom(c), from, to)
	if err != nil {
		respondError(c, h.log, "list_blocks", err)
		return
	}
	out := make([]blockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockResponse(b))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) deleteBlock(c *gin.Context) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	if err := h.schedule.DeleteBlock(c.Request.Context(), actorFrom(c), id); err != nil {
		respondError(c, h.log, "delete_block", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) calendarConnect(c *gin.Context) {
	if h.connector == nil {
		respondError(c, h.log, "calendar_connect", calendarsync.ErrNotConfigured)
		return
	}
	url, err := h.connector.AuthURL(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, h.log, "calendar_connect", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": url})
}

func (h *handler) calendarCallback(c *gin.Context) {
	if h.connector == nil {
		respondError(c, h.log, "calendar_callback", calendarsync.ErrNotConfigured)
		return
	}
	if msg := c.Query("error"); msg != "" {
		badRequest(c, "authorization was not granted: "+msg)
		return
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		badRequest(c, "code and state are required")
		return
	}

	conn, err := h.connector.Callback(c.Request.Context(), code, state)
	if err != nil {
		respondError(c, h.log, "calendar_callback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "connected",
		"provider_id": conn.ProviderID,
		"calendar_id": conn.CalendarID,
	})
}

func (h *handler) calendarSync(c *gin.Context) {
	if h.syncer == nil {
		respondError(c, h.log, "calendar_sync", calendarsync.ErrNotConfigured)
		return
	}
	actor := actorFrom(c)
	if !actor.IsProvider() {
		respondError(c, h.log, "calendar_sync", domain.ErrPermissionDenied)
		return
	}
	sum, err := h.syncer.SyncProvider(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, h.log, "calendar_sync", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
