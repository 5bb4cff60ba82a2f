// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/ManuGH/ripflow/internal/fsutil"
	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/log"
	"github.com/ManuGH/ripflow/internal/metrics"
)

// Admission limits. Oversize bodies are rejected before parsing; field
// caps bound what lands in the store.
const (
	maxWebhookBody = 10 * 1024
	maxTitleLen    = 500
	maxBodyLen     = 2000
	maxPathLen     = 1000
	maxJobIDLen    = 50
)

// Shape A notifications carry the rip directory in free text.
var (
	ripCompleteRe  = regexp.MustCompile(`(?i)^(.+)\s+rip complete`)
	procCompleteRe = regexp.MustCompile(`(?i)^(.+)\s+processing complete`)
)

// successStatuses are the Shape B status values that mean "transcode me".
var successStatuses = map[string]bool{
	"success":   true,
	"complete":  true,
	"completed": true,
	"ok":        true,
}

// webhookPayload is the union of both notification shapes.
type webhookPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Type   string `json:"type"`
	Path   string `json:"path"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleWebhook admits ripper notifications. The response is written only
// after the job row is durable.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "admission")

	if !s.checkWebhookSecret(r) {
		metrics.WebhookRejections.WithLabelValues(string(jobs.KindUnauthorized)).Inc()
		logger.Warn().Msg("webhook secret mismatch")
		writeError(w, http.StatusUnauthorized, string(jobs.KindUnauthorized), "invalid webhook secret")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.WebhookRejections.WithLabelValues(string(jobs.KindOversized)).Inc()
			writeError(w, http.StatusRequestEntityTooLarge, string(jobs.KindOversized), "payload exceeds 10 KiB")
			return
		}
		metrics.WebhookRejections.WithLabelValues(string(jobs.KindMalformed)).Inc()
		writeError(w, http.StatusBadRequest, string(jobs.KindMalformed), "invalid JSON")
		return
	}

	if err := checkFieldCaps(payload); err != nil {
		metrics.WebhookRejections.WithLabelValues(string(jobs.KindMalformed)).Inc()
		writeError(w, http.StatusBadRequest, string(jobs.KindMalformed), err.Error())
		return
	}

	hint, title, ok, err := resolveNotification(payload)
	if err != nil {
		metrics.WebhookRejections.WithLabelValues(string(jobs.KindMalformed)).Inc()
		writeError(w, http.StatusBadRequest, string(jobs.KindMalformed), err.Error())
		return
	}
	if !ok {
		// Broadcast notifiers fire on every event; non-completion events
		// are acknowledged and dropped so they do not retry.
		logger.Debug().Str("status", payload.Status).Msg("non-completion notification ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	id, err := s.store.Insert(r.Context(), title, hint, payload.JobID)
	if err != nil {
		logger.Error().Err(err).Msg("insert failed")
		writeError(w, http.StatusInternalServerError, "internal", "failed to persist job")
		return
	}
	s.worker.Notify()

	logger.Info().Int64(log.FieldJobID, id).Str(log.FieldTitle, title).Str("hint", hint).Msg("job admitted")
	writeJSON(w, http.StatusCreated, map[string]int64{"job_id": id})
}

func checkFieldCaps(p webhookPayload) error {
	switch {
	case len(p.Title) > maxTitleLen:
		return errors.New("title exceeds 500 characters")
	case len(p.Body) > maxBodyLen:
		return errors.New("body exceeds 2000 characters")
	case len(p.Path) > maxPathLen:
		return errors.New("path exceeds 1000 characters")
	case len(p.JobID) > maxJobIDLen:
		return errors.New("job_id exceeds 50 characters")
	}
	return nil
}

// resolveNotification extracts (hint, title) from either shape. ok=false
// with nil error means a valid notification that is not a completion.
func resolveNotification(p webhookPayload) (hint, title string, ok bool, err error) {
	bodyHint := extractBodyHint(p.Body)

	if p.Path != "" {
		if verr := fsutil.ValidateHint(p.Path); verr != nil {
			return "", "", false, verr
		}
		if p.Status != "" && !successStatuses[strings.ToLower(p.Status)] && bodyHint == "" {
			return "", "", false, nil
		}
		return p.Path, titleOr(p.Title, p.Path), true, nil
	}

	if bodyHint == "" {
		if p.Status != "" && !successStatuses[strings.ToLower(p.Status)] {
			return "", "", false, nil
		}
		return "", "", false, errors.New("no path and body matches no completion pattern")
	}
	if verr := fsutil.ValidateHint(bodyHint); verr != nil {
		return "", "", false, verr
	}
	return bodyHint, titleOr(p.Title, bodyHint), true, nil
}

func extractBodyHint(body string) string {
	for _, re := range []*regexp.Regexp{ripCompleteRe, procCompleteRe} {
		if m := re.FindStringSubmatch(body); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func titleOr(title, fallback string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return fallback
}
