package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cxdexx/codex-passport/internal/application"
	"github.com/cxdexx/codex-passport/internal/domain"
)

// maxRequestBodyBytes bounds the transport envelope. The service enforces
// the configured snippet cap separately.
const maxRequestBodyBytes = 1 << 20

// generate serves POST /v1/generate. Rejections are a single JSON error
// envelope with the mapped status. Admitted requests switch the response
// to NDJSON and stream one frame per line, flushed as produced.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var in application.GenerateInput
	if err := decodeSingleJSON(r.Body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	in.IPAddress = clientAddr(r)
	in.UserAgent = r.UserAgent()
	in.RequestID = requestIDFromContext(r.Context())

	sink := newNDJSONSink(w)
	if err := h.service.Generate(r.Context(), in, sink); err != nil {
		writeMappedError(r.Context(), w, "generate", err)
	}
}

// ndjsonSink writes frames as newline-delimited JSON. Headers go out with
// the first frame, so rejections raised before any frame still get the
// plain error envelope.
type ndjsonSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	enc     *json.Encoder
	started bool
}

func newNDJSONSink(w http.ResponseWriter) *ndjsonSink {
	return &ndjsonSink{
		w:   w,
		rc:  http.NewResponseController(w),
		enc: json.NewEncoder(w),
	}
}

func (s *ndjsonSink) Send(ctx context.Context, frame domain.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := s.enc.Encode(frame); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
