package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/seolaris/poolgate/internal/pool"
	"github.com/seolaris/poolgate/internal/relay"
	"github.com/seolaris/poolgate/internal/upstream"
	"github.com/seolaris/poolgate/internal/util"
)

// ClaudeMessagesHandler serves POST /anthropic/v1/messages.
func ClaudeMessagesHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeAnthropicError(w, relay.NewError(400, relay.ErrInvalidRequest, "failed to read request body"))
			return
		}
		if util.IsVerbose() {
			log.Printf("🔄 [VERBOSE] Messages request:\n%s", util.TruncateBytes(body))
		}

		var req relay.MessagesRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeAnthropicError(w, relay.NewError(400, relay.ErrInvalidRequest, "invalid JSON body"))
			return
		}

		canonical, gerr := relay.AnthropicToCanonical(&req, d.Aliases)
		if gerr != nil {
			writeAnthropicError(w, gerr)
			d.logRequest(r, gerr.Status, started, req.Model, "", "", gerr.Message, relay.Usage{})
			return
		}

		if canonical.Stream {
			d.streamMessages(w, r, &req, canonical, started)
			return
		}

		resp, identity, gerr := d.dispatch(r.Context(), canonical)
		if gerr != nil {
			writeAnthropicError(w, gerr)
			d.logRequest(r, gerr.Status, started, req.Model, canonical.Model, "", gerr.Message, relay.Usage{})
			return
		}

		out := relay.CanonicalToMessagesResponse(resp, req.Model)
		writeJSON(w, http.StatusOK, out)
		d.logRequest(r, http.StatusOK, started, req.Model, canonical.Model, identity.Email, "", resp.Usage)
	}
}

func (d *Deps) streamMessages(w http.ResponseWriter, r *http.Request, req *relay.MessagesRequest, canonical *relay.Request, started time.Time) {
	events, identity, gerr := d.dispatchStream(r.Context(), canonical)
	if gerr != nil {
		writeAnthropicError(w, gerr)
		d.logRequest(r, gerr.Status, started, req.Model, canonical.Model, "", gerr.Message, relay.Usage{})
		return
	}

	SetSSEHeaders(w)
	flusher, canFlush := w.(http.Flusher)

	transcoder := relay.NewAnthropicTranscoder(req.Model)
	var usage relay.Usage
	sawError := false

	for ev := range events {
		if ev.Type == upstream.EventError {
			sawError = true
		}
		if ev.Usage != nil {
			usage.Input = ev.Usage.InputTokens
			usage.Output = ev.Usage.OutputTokens
			usage.CacheRead = ev.Usage.CacheReadInputTokens
		}

		lines := transcoder.Feed(ev)
		if len(lines) == 0 {
			continue
		}
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
		fmt.Fprint(w, "\n")
		if canFlush {
			flusher.Flush()
		}
		if transcoder.Finished() {
			break
		}
	}

	errMsg := ""
	switch {
	case sawError:
		d.Pool.RecordOutcome(identity, pool.OutcomeFailure, 0)
		errMsg = "stream interrupted"
	case r.Context().Err() != nil:
		d.Pool.RecordOutcome(identity, pool.OutcomeSuccess, 0)
		errMsg = "client disconnected"
	default:
		d.Pool.RecordOutcome(identity, pool.OutcomeSuccess, 0)
	}
	d.logRequest(r, http.StatusOK, started, req.Model, canonical.Model, identity.Email, errMsg, usage)
}

// AnthropicModelsHandler serves GET /anthropic/v1/models.
func AnthropicModelsHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type modelEntry struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			DisplayName string `json:"display_name"`
		}

		names := relay.KnownModels(d.Aliases)
		data := make([]modelEntry, 0, len(names))
		for _, name := range names {
			data = append(data, modelEntry{ID: name, Type: "model", DisplayName: name})
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":     data,
			"has_more": false,
		})
	}
}
