package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cxdexx/codex-passport/internal/application"
	"github.com/cxdexx/codex-passport/internal/domain"
)

func dialWS(t *testing.T, ctx context.Context, srvURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srvURL, "http") + "/v1/generate/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	return conn
}

func wsGenerateRequest() application.GenerateInput {
	return application.GenerateInput{
		CodeSnippet:       "print(1)",
		PassportSignature: validSigHex,
		PassportPublicKey: validKeyHex,
	}
}

func TestGenerateWSStreamsFrames(t *testing.T) {
	t.Parallel()

	tokens := int64(13)
	router := newTestRouter(routerConfig{
		backend: &stubBackend{chunks: []string{"x", "y"}, tokens: &tokens},
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL)
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, wsGenerateRequest()); err != nil {
		t.Fatalf("send request: %v", err)
	}

	var frames []wireFrame
	for {
		var frame wireFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("stream ended abnormally: %v", err)
			}
			break
		}
		frames = append(frames, frame)
	}

	want := []string{"passport", "chunk", "chunk", "done"}
	if len(frames) != len(want) {
		t.Fatalf("expected %v, got %d frames", want, len(frames))
	}
	for i, typ := range want {
		if frames[i].Type != typ {
			t.Fatalf("frame %d: expected %s, got %s", i, typ, frames[i].Type)
		}
	}
	var done domain.DoneFrameData
	if err := json.Unmarshal(frames[3].Data, &done); err != nil || done.TokensUsed != 13 {
		t.Fatalf("done frame should report 13 tokens, got %s (%v)", frames[3].Data, err)
	}
}

func TestGenerateWSRejectionClosesWithPolicyViolation(t *testing.T) {
	t.Parallel()

	router := newTestRouter(routerConfig{verifier: stubVerifier{err: domain.ErrInvalidSignature}})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL)
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, wsGenerateRequest()); err != nil {
		t.Fatalf("send request: %v", err)
	}

	var frame wireFrame
	err := wsjson.Read(ctx, conn, &frame)
	if err == nil {
		t.Fatalf("expected a close, got frame %+v", frame)
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v (%v)", got, err)
	}
}

func TestGenerateWSQuotaExhaustedClosesWithTryAgainLater(t *testing.T) {
	t.Parallel()

	exhausted := admittedLedger()
	exhausted.admission.CanProceed = false
	exhausted.admission.Status = domain.StatusLimitReached
	router := newTestRouter(routerConfig{ledger: exhausted})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL)
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, wsGenerateRequest()); err != nil {
		t.Fatalf("send request: %v", err)
	}
	var frame wireFrame
	err := wsjson.Read(ctx, conn, &frame)
	if got := websocket.CloseStatus(err); got != websocket.StatusTryAgainLater {
		t.Fatalf("expected try-again-later close, got %v (%v)", got, err)
	}
}

func TestGenerateWSRequiresRequestMessage(t *testing.T) {
	t.Parallel()

	router := newTestRouter(routerConfig{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL)
	defer conn.CloseNow()

	// Not JSON: the handler rejects the first message instead of hanging.
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("send junk: %v", err)
	}
	var frame wireFrame
	err := wsjson.Read(ctx, conn, &frame)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v (%v)", got, err)
	}
}
