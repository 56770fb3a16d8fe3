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

// OpenAIChatHandler serves POST /v1/chat/completions in both streaming and
// non-streaming modes.
func OpenAIChatHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeOpenAIError(w, relay.NewError(400, relay.ErrInvalidRequest, "failed to read request body"))
			return
		}
		if util.IsVerbose() {
			log.Printf("🔄 [VERBOSE] OpenAI chat request:\n%s", util.TruncateBytes(body))
		}

		var req relay.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeOpenAIError(w, relay.NewError(400, relay.ErrInvalidRequest, "invalid JSON body"))
			return
		}

		canonical, gerr := relay.OpenAIToCanonical(&req, d.Aliases)
		if gerr != nil {
			writeOpenAIError(w, gerr)
			d.logRequest(r, gerr.Status, started, req.Model, "", "", gerr.Message, relay.Usage{})
			return
		}

		if canonical.Stream {
			d.streamChat(w, r, &req, canonical, started)
			return
		}

		resp, identity, gerr := d.dispatch(r.Context(), canonical)
		if gerr != nil {
			writeOpenAIError(w, gerr)
			d.logRequest(r, gerr.Status, started, req.Model, canonical.Model, "", gerr.Message, relay.Usage{})
			return
		}

		out := relay.CanonicalToChatResponse(resp, req.Model)
		writeJSON(w, http.StatusOK, out)
		d.logRequest(r, http.StatusOK, started, req.Model, canonical.Model, identity.Email, "", resp.Usage)
	}
}

func (d *Deps) streamChat(w http.ResponseWriter, r *http.Request, req *relay.ChatRequest, canonical *relay.Request, started time.Time) {
	events, identity, gerr := d.dispatchStream(r.Context(), canonical)
	if gerr != nil {
		writeOpenAIError(w, gerr)
		d.logRequest(r, gerr.Status, started, req.Model, canonical.Model, "", gerr.Message, relay.Usage{})
		return
	}

	SetSSEHeaders(w)
	flusher, canFlush := w.(http.Flusher)

	transcoder := relay.NewTranscoder(req.Model)
	safety := upstream.NewStreamSafetyChecker()
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

		for _, line := range transcoder.Feed(ev) {
			if abort, reason := safety.CheckChunk([]byte(line)); abort {
				log.Printf("🛑 Aborting stream for %s: %s", identity.Email, reason)
				sawError = true
				transcoder = nil
				break
			}
			fmt.Fprintf(w, "%s\n\n", line)
			if canFlush {
				flusher.Flush()
			}
		}
		if transcoder == nil || transcoder.Finished() {
			break
		}
	}

	finished := transcoder != nil && transcoder.Finished()
	if transcoder != nil && !finished && !sawError && r.Context().Err() == nil {
		// Upstream ended without message_stop; close the stream cleanly.
		fmt.Fprint(w, "data: [DONE]\n\n")
		if canFlush {
			flusher.Flush()
		}
	}

	status := http.StatusOK
	errMsg := ""
	switch {
	case sawError:
		d.Pool.RecordOutcome(identity, pool.OutcomeFailure, 0)
		errMsg = "stream interrupted"
	case r.Context().Err() != nil:
		// Client went away; the identity did its job.
		d.Pool.RecordOutcome(identity, pool.OutcomeSuccess, 0)
		errMsg = "client disconnected"
	default:
		d.Pool.RecordOutcome(identity, pool.OutcomeSuccess, 0)
	}
	d.logRequest(r, status, started, req.Model, canonical.Model, identity.Email, errMsg, usage)
}

// ModelsHandler serves GET /v1/models with the alias table.
func ModelsHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type modelEntry struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			Created int64  `json:"created"`
			OwnedBy string `json:"owned_by"`
		}

		created := time.Now().Unix()
		names := relay.KnownModels(d.Aliases)
		data := make([]modelEntry, 0, len(names))
		for _, name := range names {
			data = append(data, modelEntry{ID: name, Object: "model", Created: created, OwnedBy: "poolgate"})
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data":   data,
		})
	}
}
