package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cxdexx/codex-passport/internal/domain"
	"github.com/cxdexx/codex-passport/internal/ports"
)

const tokenRecordTimeout = 5 * time.Second

type streamOutcome string

const (
	outcomeCompleted streamOutcome = "completed"
	outcomeFailed    streamOutcome = "failed"
	outcomeCancelled streamOutcome = "cancelled"
)

// Generate runs one generation request end to end: admission, backend
// stream, frame relay, usage recording.
//
// Errors are returned only before the first frame is written, so the
// transport can still answer with a plain error envelope. Once the passport
// frame is out, every outcome is expressed in-band: a done frame, an error
// frame, or deliberate silence when the caller cancelled. Generate then
// returns nil.
func (s *Service) Generate(ctx context.Context, in GenerateInput, sink ports.FrameSink) error {
	if in.CodeSnippet == "" {
		return fmt.Errorf("%w: codeSnippet is required", domain.ErrInvalidInput)
	}
	if len(in.CodeSnippet) > s.cfg.MaxSnippetBytes {
		return fmt.Errorf("%w: codeSnippet exceeds %d bytes", domain.ErrInvalidInput, s.cfg.MaxSnippetBytes)
	}

	adm, err := s.Authorize(ctx, AuthorizeInput{
		PublicKeyHex:       in.PassportPublicKey,
		SignatureHex:       in.PassportSignature,
		IPAddress:          in.IPAddress,
		UserAgent:          in.UserAgent,
		SnippetFingerprint: s.hasher.Fingerprint(in.CodeSnippet),
		SnippetBytes:       len(in.CodeSnippet),
	})
	if err != nil {
		return err
	}

	log := s.logger.With(
		slog.String("module", "application"),
		slog.String("operation", "generate"),
		slog.String("passport_id", adm.PassportID),
		slog.String("request_id", in.RequestID),
	)

	// The whole stream lives under one deadline; idle gaps are watched
	// separately below.
	streamCtx, cancel := context.WithTimeout(ctx, s.cfg.StreamMaxDuration)
	defer cancel()

	stream, err := s.backend.Open(streamCtx, ports.GenerationRequest{
		Snippet:    in.CodeSnippet,
		PassportID: adm.PassportID,
		RequestID:  in.RequestID,
	})
	if err != nil {
		log.Error("backend open failed", slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrBackendFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrBackendFailure, err)
	}
	defer stream.Close()

	if err := sink.Send(ctx, domain.NewPassportFrame(adm)); err != nil {
		log.Info("stream finished",
			slog.String("outcome", string(outcomeCancelled)),
			slog.String("reason", "client gone before first frame"))
		return nil
	}

	outcome := s.relay(ctx, streamCtx, log, adm, stream, sink)
	log.Info("stream finished", slog.String("outcome", string(outcome)))
	return nil
}

// relay forwards backend chunks to the sink until the stream ends one way
// or another. Caller cancellation produces no further frames.
func (s *Service) relay(ctx, streamCtx context.Context, log *slog.Logger, adm domain.Admission, stream ports.CompletionStream, sink ports.FrameSink) streamOutcome {
	chunkc := make(chan string)
	errc := make(chan error, 1)
	go func() {
		for {
			chunk, err := stream.Recv(streamCtx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case chunkc <- chunk.Content:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	idle := time.NewTimer(s.cfg.StreamIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return outcomeCancelled

		case <-streamCtx.Done():
			if ctx.Err() != nil {
				return outcomeCancelled
			}
			log.Warn("stream exceeded max duration")
			s.sendErrorFrame(ctx, log, sink, "generation timed out")
			return outcomeFailed

		case <-idle.C:
			log.Warn("stream idle timeout",
				slog.Duration("idle_timeout", s.cfg.StreamIdleTimeout))
			s.sendErrorFrame(ctx, log, sink, "generation timed out")
			return outcomeFailed

		case err := <-errc:
			if errors.Is(err, io.EOF) {
				tokens := s.finishUsage(ctx, log, adm, stream)
				if err := sink.Send(ctx, domain.NewDoneFrame(tokens)); err != nil {
					log.Info("done frame dropped", slog.String("error", err.Error()))
				}
				return outcomeCompleted
			}
			if ctx.Err() != nil {
				return outcomeCancelled
			}
			if streamCtx.Err() != nil {
				log.Warn("stream exceeded max duration")
				s.sendErrorFrame(ctx, log, sink, "generation timed out")
				return outcomeFailed
			}
			log.Error("backend stream failed", slog.String("error", err.Error()))
			s.sendErrorFrame(ctx, log, sink, "upstream generation failed")
			return outcomeFailed

		case content := <-chunkc:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.StreamIdleTimeout)
			if err := sink.Send(ctx, domain.NewChunkFrame(content)); err != nil {
				return outcomeCancelled
			}
		}
	}
}

func (s *Service) sendErrorFrame(ctx context.Context, log *slog.Logger, sink ports.FrameSink, message string) {
	frame := domain.NewErrorFrame(domain.ErrorKindBackendFailure, message)
	if err := sink.Send(ctx, frame); err != nil {
		log.Info("error frame dropped", slog.String("error", err.Error()))
	}
}

// finishUsage stamps the reported token count onto the usage-log row. The
// admission already counted the request; this only enriches the record, so
// failures are logged and swallowed.
func (s *Service) finishUsage(ctx context.Context, log *slog.Logger, adm domain.Admission, stream ports.CompletionStream) *int64 {
	tokens, ok := stream.TokensUsed()
	if !ok {
		return nil
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenRecordTimeout)
	defer cancel()
	if err := s.ledger.RecordTokenUsage(recordCtx, adm.UsageLogID, tokens); err != nil {
		log.Warn("token usage not recorded",
			slog.Int64("tokens_used", tokens),
			slog.String("error", err.Error()))
	}
	return &tokens
}
