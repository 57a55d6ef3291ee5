package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/common"
	"github.com/suPer8Hu/sportlens/internal/task"
)

type taskView struct {
	task.Task
	RemainingSec *float64 `json:"remaining_sec,omitempty"`
	Overdue      bool     `json:"overdue,omitempty"`
}

func viewTasks(ts []task.Task, now time.Time) []taskView {
	out := make([]taskView, 0, len(ts))
	for _, t := range ts {
		v := taskView{Task: t, Overdue: t.Overdue(now)}
		if rem, ok := t.Remaining(now); ok {
			sec := rem.Seconds()
			v.RemainingSec = &sec
		}
		out = append(out, v)
	}
	return out
}

// ListTasks serves the combined task list, filtered by the optional status,
// sport and provenance query parameters.
func (h *Handler) ListTasks(c *gin.Context) {
	f := task.Filter{
		Status:     task.Status(c.Query("status")),
		Sport:      c.Query("sport"),
		Provenance: task.Provenance(c.Query("provenance")),
	}
	all := task.FilterTasks(h.App.Tasks(c.Request.Context()), f)
	common.OK(c, gin.H{"tasks": viewTasks(all, time.Now())})
}

// CreateTask submits to the backend when signed in and records a guest task
// otherwise.
func (h *Handler) CreateTask(c *gin.Context) {
	var in task.NewTask
	if err := c.ShouldBindJSON(&in); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if _, signedIn := h.App.Sessions.Current(); !signedIn {
		t, err := h.App.Guests.Create(in)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, gin.H{"task": t})
		return
	}

	token, ok := h.token(c)
	if !ok {
		return
	}
	t, err := h.App.TaskAPI.Create(c.Request.Context(), token, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.App.TaskCache.Put(*t); err != nil {
		h.log.Warn("cache created task failed", "task_id", t.ID, "error", err)
	}
	h.App.StartPolling()
	common.OK(c, gin.H{"task": t})
}

func (h *Handler) findTask(c *gin.Context, id string) (task.Task, bool) {
	for _, t := range h.App.Tasks(c.Request.Context()) {
		if t.ID == id {
			return t, true
		}
	}
	h.fail(c, task.ErrNotFound)
	return task.Task{}, false
}

func (h *Handler) DeleteTask(c *gin.Context) {
	t, ok := h.findTask(c, c.Param("id"))
	if !ok {
		return
	}

	switch t.Provenance {
	case task.ProvenanceSample:
		common.Fail(c, http.StatusForbidden, 40301, "sample tasks cannot be deleted")
		return
	case task.ProvenanceGuest:
		if err := h.App.Guests.Delete(t.ID); err != nil {
			h.fail(c, err)
			return
		}
	default:
		token, ok := h.token(c)
		if !ok {
			return
		}
		if err := h.App.TaskAPI.Delete(c.Request.Context(), token, t.ID); err != nil {
			h.fail(c, err)
			return
		}
		if err := h.App.TaskCache.Remove(t.ID); err != nil {
			h.log.Warn("drop deleted task from cache failed", "task_id", t.ID, "error", err)
		}
	}
	common.OK(c, gin.H{"deleted": t.ID})
}

func (h *Handler) TaskResult(c *gin.Context) {
	token, ok := h.token(c)
	if !ok {
		return
	}
	raw, err := h.App.TaskAPI.FetchResult(c.Request.Context(), token, c.Param("id"))
	if errors.Is(err, task.ErrStillProcessing) {
		c.JSON(http.StatusAccepted, gin.H{"code": 20201, "message": "still processing", "data": nil})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"result": raw})
}

func (h *Handler) RefreshTasks(c *gin.Context) {
	tasks, err := h.App.TaskCache.Refresh(c.Request.Context(), h.App.TaskAPI, h.App.Sessions)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.App.StartPolling()
	common.OK(c, gin.H{"tasks": viewTasks(tasks, time.Now())})
}

func (h *Handler) UpdateGuestTask(c *gin.Context) {
	var in task.Task
	if err := c.ShouldBindJSON(&in); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	in.ID = c.Param("id")
	t, err := h.App.Guests.Update(in)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"task": t})
}

func (h *Handler) MigrateGuestTasks(c *gin.Context) {
	n, err := task.MigrateGuestTasks(c.Request.Context(), h.App.Guests, h.App.TaskAPI, h.App.Sessions, h.log)
	if err != nil {
		h.fail(c, err)
		return
	}
	if n > 0 {
		if _, err := h.App.TaskCache.Refresh(c.Request.Context(), h.App.TaskAPI, h.App.Sessions); err != nil {
			h.log.Warn("task list refresh after migration failed", "error", err)
		} else {
			h.App.StartPolling()
		}
	}
	common.OK(c, gin.H{"migrated": n})
}
