package httpapi

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quartier/community-app/internal/messaging"
	"github.com/quartier/community-app/internal/report"
)

type createReportRequest struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Reason     string `json:"reason"`
	Details    string `json:"details"`
}

// handleCreateReport files a content report and pushes it to every connected
// moderator and admin.
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)

	var req createReportRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "targetId is required")
		return
	}

	rep, err := s.reportStore.Create(r.Context(), &report.Report{
		ReporterID: identity.UserID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Reason:     req.Reason,
		Details:    req.Details,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	moderators := s.registry.UsersWithRole("moderator", "admin")
	s.dispatcher.EmitReportOpened(moderators, rep)
	s.publishEvent(messaging.SubjectReportOpened, messaging.ReportOpenedEvent{
		ReportID: rep.ID,
		Reason:   rep.Reason,
	})

	writeJSON(w, http.StatusCreated, rep)
}

// handleListReports returns reports filtered by status, newest first.
// Moderator or admin only.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = report.StatusOpen
	}

	reports, err := s.reportStore.ListByStatus(r.Context(), status, 50)
	if err != nil {
		log.Printf("httpapi: list reports: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if reports == nil {
		reports = []report.Report{}
	}

	writeJSON(w, http.StatusOK, reports)
}

type setReportStatusRequest struct {
	Status string `json:"status"`
}

// handleSetReportStatus resolves or dismisses a report.
func (s *Server) handleSetReportStatus(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "id")

	var req setReportStatusRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.reportStore.SetStatus(r.Context(), reportID, req.Status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": reportID, "status": req.Status})
}
