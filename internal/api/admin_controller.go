package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grand-thief-cash/taskmesh/infra/components/httpserver"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/cache"
	"github.com/grand-thief-cash/taskmesh/internal/capability"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/offload"
	"github.com/grand-thief-cash/taskmesh/internal/participant"
	"github.com/grand-thief-cash/taskmesh/internal/queue"
)

// AdminController 只读的运维视图
type AdminController struct {
	*core.BaseComponent
	Registry     *participant.Registry `infra:"dep:participant_registry"`
	Queues       *queue.QueueSet       `infra:"dep:queue_set"`
	Cache        *cache.TaskCache      `infra:"dep:task_cache"`
	Capabilities *capability.Endpoint  `infra:"dep:capability_endpoint"`
	Store        *offload.Store        `infra:"dep:offload_store?"`
}

func NewAdminController() *AdminController {
	return &AdminController{BaseComponent: core.NewBaseComponent(consts.COMP_CTRL_ADMIN)}
}

func init() {
	httpserver.RegisterRoutes(func(r chi.Router, c *core.Container) error {
		comp, err := c.Resolve(consts.COMP_CTRL_ADMIN)
		if err != nil {
			return err
		}
		ctrl, ok := comp.(*AdminController)
		if !ok {
			return fmt.Errorf("admin_ctrl type assertion failed")
		}
		ctrl.Routes(r)
		return nil
	})
}

func (a *AdminController) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/participants", a.listParticipants)
		r.Get("/participants/{name}", a.getParticipant)
		r.Get("/queues", a.listQueues)
		r.Get("/capabilities", a.listCapabilities)
		r.Get("/tasks/{id}", a.getTask)
	})
}

func (a *AdminController) listParticipants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"self": a.Registry.Self(), "items": a.Registry.RegistrationSnapshot()})
}

func (a *AdminController) getParticipant(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	reg, ok := a.Registry.GetRegistration(name)
	if !ok {
		writeErr(w, http.StatusNotFound, "participant not registered: "+name)
		return
	}
	writeJSON(w, reg)
}

type queueView struct {
	Participant string            `json:"participant"`
	Size        int               `json:"size"`
	Head        *model.QueueEntry `json:"head,omitempty"`
	Offloaded   int64             `json:"offloaded"`
}

func (a *AdminController) listQueues(w http.ResponseWriter, r *http.Request) {
	items := make([]queueView, 0)
	for _, p := range a.Queues.Participants() {
		q := a.Queues.Queue(p)
		v := queueView{Participant: p, Size: q.Size()}
		if head, ok := q.Peek(); ok {
			v.Head = &head
		}
		if a.Store != nil {
			if n, err := a.Store.Count(r.Context(), p); err == nil {
				v.Offloaded = n
			}
		}
		items = append(items, v)
	}
	writeJSON(w, map[string]any{"items": items})
}

func (a *AdminController) listCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"endpoint":   a.Capabilities.Identity(),
		"scan_state": a.Capabilities.State(),
		"items":      a.Capabilities.Catalog(),
	})
}

func (a *AdminController) getTask(w http.ResponseWriter, r *http.Request) {
	id := model.TaskID{LocalID: chi.URLParam(r, "id")}
	task, ok := a.Cache.GetTask(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "task not found: "+id.LocalID)
		return
	}
	out := map[string]any{"task": task}
	if card, ok := a.Cache.GetJobCard(id); ok {
		out["job_card"] = card
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
