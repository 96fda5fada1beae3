package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diachron/diachron/internal/blame"
	"github.com/diachron/diachron/internal/eventbus"
	"github.com/diachron/diachron/internal/fingerprint"
	"github.com/diachron/diachron/internal/maintenance"
	"github.com/diachron/diachron/internal/prcorrelate"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/summarize"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/version"
)

// dispatch routes one decoded request to the handler that owns it, returning
// the tagged response to write back.
func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	switch req.Type {
	case TypePing:
		return s.handlePing(ctx)
	case TypeShutdown:
		return s.handleShutdown()
	case TypeCapture:
		return s.handleCapture(ctx, req.Payload)
	case TypeSearch:
		return s.handleSearch(ctx, req.Payload)
	case TypeTimeline:
		return s.handleTimeline(ctx, req.Payload)
	case TypeIndexConversations:
		return s.handleIndexConversations(ctx)
	case TypeDoctorInfo:
		return s.handleDoctorInfo(ctx)
	case TypeSummarizeExchanges:
		return s.handleSummarizeExchanges(ctx, req.Payload)
	case TypeMaintenance:
		return s.handleMaintenance(ctx, req.Payload)
	case TypeBlameByFingerprint:
		return s.handleBlame(ctx, req.Payload)
	case TypeCorrelateEvidence:
		return s.handleCorrelate(ctx, req.Payload)
	case TypeMetrics:
		return s.handleMetrics()
	default:
		return errResponse("unknown request type %q", req.Type)
	}
}

func (s *Server) handlePing(ctx context.Context) Response {
	var count int64
	if s.store != nil {
		if n, err := s.store.EventCount(ctx); err == nil {
			count = n
		}
	}
	return dataResponse(TypePong, PongPayload{
		UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
		EventsCount: count,
	})
}

func (s *Server) handleShutdown() Response {
	s.pendingStop.Store(true)
	return ok()
}

// handleMetrics reports per-request-type counts, latency percentiles, and
// connection/memory stats, independent of DoctorInfo's store-focused report.
func (s *Server) handleMetrics() Response {
	active := len(s.connSemaphore)
	snapshot := s.metrics.Snapshot(active)
	return dataResponse(TypeMetricsSnapshot, snapshot)
}

func (s *Server) handleCapture(ctx context.Context, payload json.RawMessage) Response {
	var p CaptureEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse("capture: decode payload: %v", err)
	}
	if s.store == nil {
		return errResponse("capture: store not configured")
	}

	var meta types.EventMetadata
	if p.Metadata != "" {
		if err := json.Unmarshal([]byte(p.Metadata), &meta); err != nil {
			return errResponse("capture: decode metadata: %v", err)
		}
	}

	e := &types.Event{
		Timestamp:    time.Now().UTC(),
		SessionID:    p.SessionID,
		ToolName:     p.ToolName,
		FilePath:     p.FilePath,
		Operation:    types.Operation(p.Operation),
		DiffSummary:  p.DiffSummary,
		RawInput:     p.RawInput,
		GitCommitSHA: p.GitCommitSHA,
		Metadata:     meta,
	}

	fpText := p.DiffSummary
	if fpText == "" {
		fpText = p.RawInput
	}
	var fpVector []float32
	if s.embedder != nil && fpText != "" {
		if vec, err := s.embedder.Embed(fpText); err == nil {
			fpVector = vec
		} else {
			s.log.Warn("capture: embed for fingerprint", "error", err)
		}
	}
	if fpText != "" {
		fp := fingerprint.Compute(fpText, "", fpVector)
		e.ContentHash = &fp.ContentHash
	}

	if err := s.store.SaveEvent(ctx, e); err != nil {
		return errResponse("capture: save event: %v", err)
	}

	if s.bus != nil {
		busEvent := &eventbus.Event{
			Type:      eventbus.EventPostToolUse,
			SessionID: p.SessionID,
			ToolName:  p.ToolName,
			ToolInput: map[string]interface{}{
				"file_path":    p.FilePath,
				"operation":    p.Operation,
				"diff_summary": p.DiffSummary,
			},
		}
		if _, err := s.bus.Dispatch(ctx, busEvent); err != nil {
			s.log.Warn("capture: dispatch event to bus", "error", err, "event_id", e.ID)
		}
	}

	if s.eventIndex != nil && len(fpVector) > 0 {
		if err := s.eventIndex.Add(fmt.Sprintf("event:%d", e.ID), fpVector); err != nil {
			s.log.Warn("capture: index event embedding", "error", err, "event_id", e.ID)
		}
	}

	return ok()
}

func (s *Server) handleSearch(ctx context.Context, payload json.RawMessage) Response {
	var p SearchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse("search: decode payload: %v", err)
	}
	if s.engine == nil {
		return errResponse("search: engine not configured")
	}

	since, _ := storage.ParseSince(p.Since, time.Now())

	var source types.Source
	switch p.SourceFilter {
	case "", "all":
		// both sources; Engine.Search treats the zero value as unfiltered
	case string(types.SourceEvent):
		source = types.SourceEvent
	case string(types.SourceExchange):
		source = types.SourceExchange
	default:
		return errResponse("search: unknown source_filter %q", p.SourceFilter)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	results, err := s.engine.Search(ctx, p.Query, limit, source, since, p.Project)
	if err != nil {
		return errResponse("search: %v", err)
	}
	return dataResponse(TypeSearchResults, results)
}

func (s *Server) handleTimeline(ctx context.Context, payload json.RawMessage) Response {
	var p TimelinePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse("timeline: decode payload: %v", err)
	}
	if s.store == nil {
		return errResponse("timeline: store not configured")
	}

	filter := types.EventFilter{FilePath: p.FileFilter, Limit: p.Limit}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if t, ok := storage.ParseSince(p.Since, time.Now()); ok {
		filter.Since = &t
	}

	events, err := s.store.QueryEvents(ctx, filter)
	if err != nil {
		return errResponse("timeline: %v", err)
	}
	return dataResponse(TypeEvents, events)
}

func (s *Server) handleIndexConversations(ctx context.Context) Response {
	if s.archiver == nil {
		return errResponse("index_conversations: archiver not configured")
	}
	stats, err := s.archiver.Run(ctx)
	if err != nil {
		return errResponse("index_conversations: %v", err)
	}
	return dataResponse(TypeIndexStats, stats)
}

func (s *Server) handleDoctorInfo(ctx context.Context) Response {
	info := types.DiagnosticInfo{
		DiachronVersion:       version.Version,
		UptimeSecs:            int64(time.Since(s.startTime).Seconds()),
		EmbeddingEngineLoaded: s.embedder != nil,
		SummarizationEnabled:  s.summarizer != nil,
	}
	if s.store != nil {
		info.DBPath = s.store.Path()
		if n, err := s.store.EventCount(ctx); err == nil {
			info.EventCount = n
		}
		if n, err := s.store.ExchangeCount(ctx); err == nil {
			info.ExchangeCount = n
		}
		if sz, err := s.store.FileSize(); err == nil {
			info.DBSizeBytes = sz
		}
		if result, err := s.store.Verify(ctx); err == nil {
			info.ChainValid = result.Valid
			if result.Break != nil {
				info.ChainBreakCount = 1
			}
		}
	}
	return dataResponse(TypeDoctor, info)
}

func (s *Server) handleSummarizeExchanges(ctx context.Context, payload json.RawMessage) Response {
	var p SummarizePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse("summarize_exchanges: decode payload: %v", err)
	}
	if s.summarizer == nil {
		return errResponse("summarize_exchanges: summarization not configured")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	stats, err := summarize.Run(ctx, s.store, s.summarizer, limit)
	if err != nil {
		return errResponse("summarize_exchanges: %v", err)
	}
	return dataResponse(TypeSummarizeStats, stats)
}

func (s *Server) handleMaintenance(ctx context.Context, payload json.RawMessage) Response {
	var p MaintenancePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse("maintenance: decode payload: %v", err)
	}
	if s.store == nil {
		return errResponse("maintenance: store not configured")
	}
	stats, err := maintenance.Run(ctx, s.store, p.RetentionDays)
	if err != nil {
		return errResponse("maintenance: %v", err)
	}
	return dataResponse(TypeMaintenanceResp, stats)
}

func (s *Server) handleBlame(ctx context.Context, payload json.RawMessage) Response {
	var p BlamePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse("blame: decode payload: %v", err)
	}
	if s.blame == nil {
		return errResponse("blame: resolver not configured")
	}

	mode := types.BlameMode(p.Mode)
	switch mode {
	case types.BlameStrict, types.BlameBestEffort, types.BlameInferred:
	case "":
		mode = types.BlameBestEffort
	default:
		return errResponse("blame: unknown mode %q", p.Mode)
	}

	match, notFound := s.blame.Resolve(ctx, blame.Query{
		FilePath:   p.FilePath,
		LineNumber: p.LineNumber,
		Content:    p.Content,
		Context:    p.Context,
		Mode:       mode,
	})
	if match != nil {
		return dataResponse(TypeBlameResult, match)
	}
	return dataResponse(TypeBlameNotFound, notFound)
}

func (s *Server) handleCorrelate(ctx context.Context, payload json.RawMessage) Response {
	var p CorrelatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse("correlate_evidence: decode payload: %v", err)
	}
	if s.store == nil {
		return errResponse("correlate_evidence: store not configured")
	}

	start, err := time.Parse(time.RFC3339, p.StartTime)
	if err != nil {
		return errResponse("correlate_evidence: parse start_time: %v", err)
	}
	end, err := time.Parse(time.RFC3339, p.EndTime)
	if err != nil {
		return errResponse("correlate_evidence: parse end_time: %v", err)
	}

	pack, err := prcorrelate.Correlate(ctx, s.store, types.CorrelateRequest{
		PRID:      p.PRID,
		Commits:   p.Commits,
		Branch:    p.Branch,
		StartTime: start,
		EndTime:   end,
		Intent:    p.Intent,
	})
	if err != nil {
		return errResponse("correlate_evidence: %v", err)
	}
	return dataResponse(TypeEvidenceResult, pack)
}
