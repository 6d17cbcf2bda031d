package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"neuron/internal/autosave"
	"neuron/internal/burndown"
	"neuron/internal/domain"
	"neuron/internal/engine"
	"neuron/internal/export"
	"neuron/internal/period"
)

// recentSnapshots is how many snapshots the program page lists.
const recentSnapshots = 6

type programsView struct {
	CSRF     template.HTML
	Period   period.Period
	Programs []domain.Program
}

func (h *Handler) programsPage(w http.ResponseWriter, r *http.Request) {
	programs, err := h.engine.Repo.ListPrograms(r.Context())
	if err != nil {
		h.fail(w, r, domain.Storage("list programs", err))
		return
	}
	h.render(w, http.StatusOK, "programs.html", programsView{
		CSRF:     csrf.TemplateField(r),
		Period:   period.Current(h.engine.Now),
		Programs: programs,
	})
}

type initiativeView struct {
	domain.Initiative
	SubTasks   []domain.SubTask
	Milestones []domain.Milestone
}

type workstreamView struct {
	domain.Workstream
	Initiatives []initiativeView
}

type programView struct {
	CSRF        template.HTML
	CSRFToken   string
	Program     domain.Program
	Period      period.Period
	Workstreams []workstreamView
	Snapshots   []domain.Snapshot
	Issues      []domain.Issue
	Costs       []domain.CostEntry
	TotalCents  int64
	Documents   []domain.Document
}

func (h *Handler) programPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p, err := h.engine.Repo.GetProgram(ctx, id)
	if err != nil {
		h.fail(w, r, domain.Storage("get program", err))
		return
	}
	view := programView{
		CSRF:      csrf.TemplateField(r),
		CSRFToken: csrf.Token(r),
		Program:   p,
		Period:    period.Current(h.engine.Now),
	}
	if err := h.loadProgram(r, &view); err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, http.StatusOK, "program.html", view)
}

func (h *Handler) loadProgram(r *http.Request, view *programView) error {
	ctx := r.Context()
	id := view.Program.ID
	workstreams, err := h.engine.Repo.ListWorkstreams(ctx, id)
	if err != nil {
		return domain.Storage("list workstreams", err)
	}
	for _, ws := range workstreams {
		wv := workstreamView{Workstream: ws}
		initiatives, err := h.engine.Repo.ListInitiatives(ctx, ws.ID, false)
		if err != nil {
			return domain.Storage("list initiatives", err)
		}
		for _, in := range initiatives {
			iv := initiativeView{Initiative: in}
			if iv.SubTasks, err = h.engine.Repo.ListSubTasks(ctx, in.ID); err != nil {
				return domain.Storage("list subtasks", err)
			}
			if iv.Milestones, err = h.engine.Repo.ListMilestones(ctx, in.ID); err != nil {
				return domain.Storage("list milestones", err)
			}
			wv.Initiatives = append(wv.Initiatives, iv)
		}
		view.Workstreams = append(view.Workstreams, wv)
	}
	snaps, err := h.engine.Snapshots.List(ctx, id, "", "")
	if err != nil {
		return err
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].DateKey > snaps[j].DateKey })
	if len(snaps) > recentSnapshots {
		snaps = snaps[:recentSnapshots]
	}
	view.Snapshots = snaps
	if view.Issues, err = h.engine.Repo.ListIssues(ctx, id); err != nil {
		return domain.Storage("list issues", err)
	}
	if view.Costs, err = h.engine.Repo.ListCostEntries(ctx, id); err != nil {
		return domain.Storage("list costs", err)
	}
	if view.TotalCents, err = h.engine.Repo.TotalCostCents(ctx, id); err != nil {
		return domain.Storage("total costs", err)
	}
	if view.Documents, err = h.engine.Repo.ListDocuments(ctx, id); err != nil {
		return domain.Storage("list documents", err)
	}
	return nil
}

func (h *Handler) takeSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.engine.TakeSnapshot(r.Context(), id, currentSession(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("snapshot taken from page", zap.String("program_id", id), zap.String("date_key", snap.DateKey))
	http.Redirect(w, r, "/programs/"+id, http.StatusSeeOther)
}

// history returns the program's snapshots after checking it exists.
func (h *Handler) history(r *http.Request) (domain.Program, []domain.Snapshot, error) {
	ctx := r.Context()
	p, err := h.engine.Repo.GetProgram(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return domain.Program{}, nil, domain.Storage("get program", err)
	}
	snaps, err := h.engine.Snapshots.List(ctx, p.ID, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		return domain.Program{}, nil, err
	}
	return p, snaps, nil
}

func (h *Handler) burndownPage(w http.ResponseWriter, r *http.Request) {
	p, snaps, err := h.history(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, to := burndown.Bounds(snaps, h.now())
	chart := burndown.Chart(p.Name+" burndown", from, to, snaps)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chart.Render(w); err != nil {
		h.logger.Error("render chart", zap.String("program_id", p.ID), zap.Error(err))
	}
}

func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

func (h *Handler) exportSnapshotsCSV(w http.ResponseWriter, r *http.Request) {
	p, snaps, err := h.history(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, "text/csv; charset=utf-8", p.ID+"-snapshots.csv")
	if err := export.WriteSnapshotsCSV(w, snaps); err != nil {
		h.logger.Error("write snapshot csv", zap.String("program_id", p.ID), zap.Error(err))
	}
}

func (h *Handler) exportSnapshotsParquet(w http.ResponseWriter, r *http.Request) {
	p, snaps, err := h.history(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, "application/vnd.apache.parquet", p.ID+"-snapshots.parquet")
	if err := export.WriteSnapshotsParquet(w, snaps); err != nil {
		h.logger.Error("write snapshot parquet", zap.String("program_id", p.ID), zap.Error(err))
	}
}

func (h *Handler) exportCostsCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.engine.Repo.GetProgram(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, domain.Storage("get program", err))
		return
	}
	costs, err := h.engine.Repo.ListCostEntries(ctx, p.ID)
	if err != nil {
		h.fail(w, r, domain.Storage("list costs", err))
		return
	}
	workstreams, err := h.engine.Repo.ListWorkstreams(ctx, p.ID)
	if err != nil {
		h.fail(w, r, domain.Storage("list workstreams", err))
		return
	}
	names := make(map[string]string, len(workstreams))
	for _, ws := range workstreams {
		names[ws.ID] = ws.Name
	}
	attachment(w, "text/csv; charset=utf-8", p.ID+"-costs.csv")
	if err := export.WriteCostsCSV(w, costs, names); err != nil {
		h.logger.Error("write cost csv", zap.String("program_id", p.ID), zap.Error(err))
	}
}

type documentView struct {
	CSRF     template.HTML
	Program  domain.Program
	Document domain.Document
	Body     template.HTML
}

func (h *Handler) documentPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.engine.Repo.GetProgram(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, domain.Storage("get program", err))
		return
	}
	d, err := h.engine.Repo.GetDocument(ctx, chi.URLParam(r, "doc"))
	if err == nil && d.ProgramID != p.ID {
		err = domain.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, domain.Storage("get document", err))
		return
	}
	h.render(w, http.StatusOK, "document.html", documentView{
		CSRF:     csrf.TemplateField(r),
		Program:  p,
		Document: d,
		// Bodies are sanitized when saved.
		Body: template.HTML(d.BodyHTML),
	})
}

type autosaveResponse struct {
	Autosave autosave.Status `json:"autosave"`
	Error    string          `json:"error,omitempty"`
}

// saveField applies one initiative field from a form post and drives the
// session's autosave indicator through the save.
func (h *Handler) saveField(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	tracker := h.autosave.For(sess.ID)
	id := chi.URLParam(r, "id")
	name := r.PostFormValue("field")
	value := r.PostFormValue("value")

	err := tracker.Save(name, func() error {
		field, err := engine.ParseInitiativeField(name, value)
		if err != nil {
			return err
		}
		_, err = h.engine.UpdateInitiative(r.Context(), id, sess.UserID, field)
		return err
	})
	status := http.StatusOK
	resp := autosaveResponse{Autosave: tracker.Status()}
	if err != nil {
		var te *autosave.TransitionError
		if errors.As(err, &te) {
			status = http.StatusConflict
		} else {
			status = errStatus(err)
		}
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) autosaveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, autosaveResponse{Autosave: h.autosave.For(currentSession(r).ID).Status()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) now() time.Time {
	if h.engine.Now != nil {
		return h.engine.Now()
	}
	return time.Now()
}
