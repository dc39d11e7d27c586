package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/vertex-relay/internal/protocol"
	"github.com/tingly-dev/vertex-relay/internal/typ"
	"github.com/tingly-dev/vertex-relay/pkg/adaptor"
)

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message, the OpenAI error type, and the numeric
// HTTP status as code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// errorStatus maps a typed error onto an HTTP status and OpenAI error type.
func errorStatus(err error) (int, string) {
	switch typ.KindOf(err) {
	case typ.KindConfig, typ.KindConversion:
		return http.StatusBadRequest, "invalid_request_error"
	case typ.KindAuth:
		return http.StatusUnauthorized, "authentication_error"
	case typ.KindHTTP:
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "too many requests") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") {
			return http.StatusTooManyRequests, "rate_limit_error"
		}
		if strings.Contains(msg, "temporarily unavailable") {
			return http.StatusServiceUnavailable, "service_unavailable"
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(c *gin.Context, err error) {
	status, errType := errorStatus(err)
	c.JSON(status, ErrorResponse{Error: ErrorDetail{
		Message: err.Error(),
		Type:    errType,
		Code:    status,
	}})
}

// handleChatCompletions is the POST /v1/chat/completions entry point.
func (s *Server) handleChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.metrics.RecordFailure()
		writeError(c, typ.RequestError("read request body", err))
		return
	}

	var req protocol.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.metrics.RecordFailure()
		writeError(c, typ.ConversionError("malformed request body: %v", err))
		return
	}

	// Collapse is selected purely by headers; the stream flag only decides
	// between the remaining strategies.
	strategy := s.profiler.Profile(c.Request.Header)
	if strategy != StrategyCollapse && !req.IsStreaming() {
		strategy = StrategyNonStream
	}
	s.logRequest(c, &req, strategy)

	// Collapse and NonStream both need the complete upstream answer.
	streamUpstream := strategy == StrategyPassthrough || strategy == StrategyBuffered
	if !streamUpstream {
		f := false
		req.Stream = &f
	}

	payload, err := adaptor.RequestToAnthropic(&req)
	if err != nil {
		s.metrics.RecordFailure()
		writeError(c, err)
		return
	}

	resp, err := s.dispatcher.Do(c.Request.Context(), payload, streamUpstream)
	if err != nil {
		s.metrics.RecordFailure()
		writeError(c, err)
		return
	}

	switch strategy {
	case StrategyPassthrough, StrategyBuffered:
		s.streamResponse(c, resp, strategy == StrategyBuffered)
	case StrategyCollapse:
		s.collapseResponse(c, resp)
	default:
		s.jsonResponse(c, resp)
	}
}

func (s *Server) logRequest(c *gin.Context, req *protocol.ChatCompletionRequest, strategy Strategy) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	var toolNames []string
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Function.Name)
	}
	logrus.WithFields(logrus.Fields{
		"user_agent": c.Request.UserAgent(),
		"messages":   len(req.Messages),
		"tools":      toolNames,
		"strategy":   strategy.String(),
		"stream":     req.IsStreaming(),
	}).Debug("chat completion request")
}

// jsonResponse completes the NonStream path.
func (s *Server) jsonResponse(c *gin.Context, resp *http.Response) {
	upstream, err := s.decodeUpstream(resp)
	if err != nil {
		s.metrics.RecordFailure()
		writeError(c, err)
		return
	}
	s.metrics.RecordSuccess()
	c.JSON(http.StatusOK, adaptor.ResponseToOpenAI(upstream, s.backend.DisplayModel()))
}

// collapseResponse completes the Collapse path: a non-streaming upstream
// exchange replayed as a short SSE sequence.
func (s *Server) collapseResponse(c *gin.Context, resp *http.Response) {
	upstream, err := s.decodeUpstream(resp)
	if err != nil {
		s.metrics.RecordFailure()
		writeError(c, err)
		return
	}

	completion := adaptor.ResponseToOpenAI(upstream, s.backend.DisplayModel())
	setSSEHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		s.metrics.RecordFailure()
		writeError(c, typ.RequestError("streaming unsupported by connection", nil))
		return
	}
	for _, chunk := range adaptor.ResponseToChunks(completion) {
		if _, err := c.Writer.Write(adaptor.EncodeFrame(chunk)); err != nil {
			s.metrics.RecordFailure()
			return
		}
		flusher.Flush()
	}
	c.Writer.Write(adaptor.DoneFrame)
	flusher.Flush()
	s.metrics.RecordSuccess()
}

func (s *Server) decodeUpstream(resp *http.Response) (*protocol.MessagesResponse, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, typ.RequestError("read upstream response", err)
	}
	var upstream protocol.MessagesResponse
	if err := json.Unmarshal(raw, &upstream); err != nil {
		return nil, typ.RequestError("decode upstream response", err)
	}
	return &upstream, nil
}

// streamResponse pumps the upstream SSE body through the translator. A
// bounded channel sits between the translator and the client write loop so
// a slow client pauses the upstream read.
func (s *Server) streamResponse(c *gin.Context, resp *http.Response, buffered bool) {
	setSSEHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		resp.Body.Close()
		s.metrics.RecordFailure()
		writeError(c, typ.RequestError("streaming unsupported by connection", nil))
		return
	}

	ctx := c.Request.Context()
	frames := make(chan []byte, adaptor.FrameChannelSize)
	translator := adaptor.NewStreamTranslator(s.backend.DisplayModel())

	errCh := make(chan error, 1)
	go func() {
		defer close(frames)
		defer resp.Body.Close()

		send := func(frame []byte) error {
			if frame == nil {
				return nil
			}
			select {
			case frames <- frame:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var em adaptor.Emitter = &adaptor.DirectEmitter{Send: send}
		if buffered {
			em = adaptor.NewBufferedEmitter(translator, s.minStreamBuffer, send)
		}
		err := translator.Run(ctx, resp.Body, em)
		if err == nil {
			err = send(adaptor.DoneFrame)
		}
		errCh <- err
	}()

	var writeFailed bool
	for frame := range frames {
		// Keep draining after a write failure so the translator goroutine
		// never blocks on a full channel.
		if writeFailed {
			continue
		}
		if _, err := c.Writer.Write(frame); err != nil {
			logrus.Debugf("client write failed, aborting stream: %v", err)
			writeFailed = true
			continue
		}
		flusher.Flush()
	}

	if err := <-errCh; err != nil && !isCancellation(err) {
		logrus.Errorf("stream translation failed: %v", err)
		s.metrics.RecordFailure()
		return
	}
	// A stream the client abandoned is neither a success nor a failure.
	if writeFailed || ctx.Err() != nil {
		return
	}
	s.metrics.RecordSuccess()
}

func isCancellation(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
}
