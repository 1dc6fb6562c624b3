package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/leadwire/leadwire/internal/mailer"
	"github.com/leadwire/leadwire/internal/metrics"
	"github.com/leadwire/leadwire/models"
)

const msgEmailsSent = "Emails received and processed successfully!"

// handleRunScript runs the default query and returns its result set.
func (a *Handlers) handleRunScript(w http.ResponseWriter, r *http.Request) {
	// The body carries nothing the query needs.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.log.Error("error reading request body", "error", err)
	}
	a.log.Debug("run_script requested", "query", a.defaultQuery, "body", string(body))

	res, err := a.wh.ProcessQuery(r.Context(), a.queries.Provider(a.defaultQuery))
	if err != nil {
		a.log.Error("error running query", "error", err, "query", a.defaultQuery)
		a.sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out, err := json.Marshal(res)
	if err != nil {
		a.log.Error("error marshalling query result", "error", err, "query", a.defaultQuery)
		a.sendErrorResponse(w, "error encoding query result", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(out)
}

// handleSendEmails validates a batch of email descriptors and sends them
// in order.
func (a *Handlers) handleSendEmails(w http.ResponseWriter, r *http.Request) {
	var batch []models.EmailDescriptor
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		a.log.Error("error parsing request JSON", "error", err)
		metrics.MailBatches.WithLabelValues(metrics.OutcomeInvalid).Inc()
		a.sendErrorResponse(w, "error parsing request JSON", http.StatusBadRequest)
		return
	}
	// A JSON null decodes without error. Only [] is an empty batch.
	if batch == nil {
		a.log.Error("error parsing request JSON", "error", "body is not an array")
		metrics.MailBatches.WithLabelValues(metrics.OutcomeInvalid).Inc()
		a.sendErrorResponse(w, "error parsing request JSON: expected an array of emails", http.StatusBadRequest)
		return
	}

	// Reject the whole batch before anything is sent.
	for i, d := range batch {
		if err := a.validate.Struct(d); err != nil {
			a.log.Error("invalid email descriptor", "error", err, "index", i)
			metrics.MailBatches.WithLabelValues(metrics.OutcomeInvalid).Inc()
			a.sendErrorResponse(w, fmt.Sprintf("invalid email at index %d: `USER_EMAIL` must be a valid address", i), http.StatusBadRequest)
			return
		}
	}

	bodies, subjects, recipients := models.SplitDescriptors(batch)

	// A client hanging up doesn't abort a batch midway.
	ctx := context.WithoutCancel(r.Context())
	sent, err := a.mail.SendBatch(ctx, bodies, subjects, recipients)
	if err != nil {
		var (
			aErr *mailer.AuthError
			sErr *mailer.SendError
		)
		switch {
		case errors.As(err, &aErr):
			a.log.Error("mail authorization failed", "error", err)
		case errors.As(err, &sErr):
			a.log.Error("email batch aborted", "error", err, "sent", len(sent), "total", len(batch))
		default:
			a.log.Error("error sending emails", "error", err)
		}
		a.sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.sendMessage(w, msgEmailsSent)
}

// handleGetQueries returns the loaded queries. If the optional query param
// ?sql=1 is passed, it returns the raw SQL bodies as well.
func (a *Handlers) handleGetQueries(w http.ResponseWriter, r *http.Request) {
	withSQL := r.URL.Query().Get("sql") != ""

	out := make([]models.QueryResponse, 0, len(a.queries))
	for _, name := range a.queries.Names() {
		q := a.queries[name]
		qr := models.QueryResponse{Name: name, Tags: q.Tags}
		if withSQL {
			qr.SQL = q.SQL()
		}
		out = append(out, qr)
	}

	a.sendResponse(w, out)
}

// sendResponse sends a JSON envelope to the HTTP response.
func (a *Handlers) sendResponse(w http.ResponseWriter, data interface{}) {
	a.send(w, models.HTTPResponse{Status: "success", Data: data})
}

// sendMessage sends a JSON envelope with a message and no data.
func (a *Handlers) sendMessage(w http.ResponseWriter, message string) {
	a.send(w, models.HTTPResponse{Status: "success", Message: message})
}

func (a *Handlers) send(w http.ResponseWriter, resp models.HTTPResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	out, err := json.Marshal(resp)
	if err != nil {
		a.log.Error("could marshal response", "error", err)
		a.sendErrorResponse(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Write(out)
}

// sendErrorResponse sends a JSON error envelope to the HTTP response.
func (a *Handlers) sendErrorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	resp := models.HTTPResponse{Status: "error", Message: message}
	out, _ := json.Marshal(resp)

	w.Write(out)
}
