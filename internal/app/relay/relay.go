// Package relay pumps one upstream token stream to a client sink, watching
// the accumulated text for an embedded retrieval directive once the stream
// ends.
package relay

import (
	"context"
	"strings"

	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

// Hooks are the relay's outward edges. The relay itself holds no state
// beyond one request: retrieval and persistence belong to the caller.
type Hooks struct {
	// RetrievalReady gates the secondary search triggered by a directive.
	RetrievalReady func() bool

	// Search runs the secondary retrieval for a directive payload and
	// returns the summaries to add to the conversation's history.
	Search func(ctx context.Context, query string) ([]domain.CaseSummary, error)

	// Persist appends the turn to the conversation: the assistant text with
	// the directive tag stripped, plus any summaries the secondary search
	// produced. Not called when the stream errored.
	Persist func(ctx context.Context, cleanText string, extra []domain.CaseSummary) error
}

// Run forwards the stream to the sink and finalizes the turn. Frame order
// within one run: model_info, chunks, then rag_query_detected and
// rag_results_found if a directive fired, then exactly one terminal frame
// (end_of_stream on success, error on upstream failure). The terminal
// end_of_stream echoes the raw accumulator, tag included; only the persisted
// text is stripped.
//
// Sink errors (client gone) stop frame delivery but are not treated as turn
// failures; the upstream read still runs to completion.
func Run(ctx context.Context, stream *domain.ChatStream, sink Sink, hooks Hooks) error {
	log := observability.LoggerFromContext(ctx).With("model", stream.Model)

	sinkAlive := true
	send := func(f Frame) {
		if !sinkAlive {
			return
		}
		if err := sink.Send(f); err != nil {
			log.Warn("client sink closed mid-stream", "error", err)
			sinkAlive = false
		}
	}

	send(ModelInfo(stream.Model))

	var acc strings.Builder
	for tok := range stream.Tokens {
		acc.WriteString(tok)
		send(Chunk(tok))
	}

	var streamErr error
	if stream.Err != nil {
		streamErr = <-stream.Err
	}
	if streamErr != nil {
		log.Error("upstream stream failed", "error", streamErr)
		send(ErrorFrame(streamErr.Error()))
		return nil
	}

	raw := acc.String()
	if raw == "" {
		send(EndOfStream(raw))
		return nil
	}

	clean, directive := ParseDirective(raw)

	var extra []domain.CaseSummary
	if directive != "" && hooks.RetrievalReady != nil && hooks.RetrievalReady() {
		send(RagQueryDetected(directive))
		results, err := hooks.Search(ctx, directive)
		if err != nil {
			// Retrieval degradation never fails the turn.
			log.Warn("secondary retrieval failed", "query", directive, "error", err)
		} else if len(results) > 0 {
			extra = results
			send(RagResultsFound(len(results)))
		}
	}

	if hooks.Persist != nil {
		if err := hooks.Persist(ctx, clean, extra); err != nil {
			log.Error("persisting turn failed", "error", err)
		}
	}

	send(EndOfStream(raw))
	return nil
}
