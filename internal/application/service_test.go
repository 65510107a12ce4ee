package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cxdexx/codex-passport/internal/domain"
	"github.com/cxdexx/codex-passport/internal/ports"
)

type fixture struct {
	svc      *Service
	ledger   *fakeLedger
	verifier *fakeVerifier
	counters *fakeCounters
	backend  *fakeBackend
	stream   *fakeStream
}

// fixtureConfig tunes one test service. Zero-value policies get generous
// limits so unrelated tests never trip them; set Limit to -1 to disable a
// scope outright.
type fixtureConfig struct {
	service   Config
	ip        RateLimitPolicy
	global    RateLimitPolicy
	tierLimit int64
}

func newFixture() *fixture {
	return newFixtureWithConfig(fixtureConfig{})
}

func newFixtureWithConfig(fc fixtureConfig) *fixture {
	if fc.tierLimit == 0 {
		fc.tierLimit = 100
	}
	if fc.ip == (RateLimitPolicy{}) {
		fc.ip = RateLimitPolicy{Limit: 1000, Window: time.Hour, FailOpen: true}
	}
	if fc.global == (RateLimitPolicy{}) {
		fc.global = RateLimitPolicy{Limit: 1000, Window: time.Minute}
	}

	ledger := newFakeLedger(fc.tierLimit)
	verifier := &fakeVerifier{}
	counters := newFakeCounters()
	stream := &fakeStream{chunks: []string{"a", "b", "c"}}
	backend := &fakeBackend{stream: stream}

	svc := NewService(Dependencies{
		Config:   fc.service,
		Ledger:   ledger,
		Limiter:  NewRateLimiter(counters, fc.ip, fc.global, nil),
		Verifier: verifier,
		Hasher:   fakeHasher{},
		Backend:  backend,
	})

	return &fixture{
		svc:      svc,
		ledger:   ledger,
		verifier: verifier,
		counters: counters,
		backend:  backend,
		stream:   stream,
	}
}

// testKeyHex builds a well-formed 32-byte public key in hex, every byte b.
func testKeyHex(b byte) string {
	return strings.Repeat(fmt.Sprintf("%02x", b), domain.PublicKeyBytes)
}

func testSigHex() string {
	return strings.Repeat("5c", domain.SignatureBytes)
}

func authInput(keyHex string) AuthorizeInput {
	return AuthorizeInput{
		PublicKeyHex:       keyHex,
		SignatureHex:       testSigHex(),
		IPAddress:          "198.51.100.7",
		UserAgent:          "unit-test",
		SnippetFingerprint: "fp-test",
		SnippetBytes:       64,
	}
}

func generateInput(keyHex string) GenerateInput {
	return GenerateInput{
		CodeSnippet:       "func main() {}",
		PassportSignature: testSigHex(),
		PassportPublicKey: keyHex,
		IPAddress:         "198.51.100.7",
		UserAgent:         "unit-test",
		RequestID:         "req-1",
	}
}

func frameTypes(frames []domain.Frame) []domain.FrameType {
	types := make([]domain.FrameType, 0, len(frames))
	for _, f := range frames {
		types = append(types, f.Type)
	}
	return types
}

type fakeLedger struct {
	mu         sync.Mutex
	limit      int64
	passports  map[string]*domain.Passport
	entries    []domain.UsageLogEntry
	admits     int
	lastParams ports.AdmitParams
	admitErr   error
	recordErr  error
	recorded   map[uuid.UUID]int64
}

func newFakeLedger(limit int64) *fakeLedger {
	return &fakeLedger{
		limit:     limit,
		passports: map[string]*domain.Passport{},
		recorded:  map[uuid.UUID]int64{},
	}
}

// seed installs a pre-existing passport row keyed by its public key.
func (f *fakeLedger) seed(p domain.Passport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passports[p.PublicKey] = &p
}

func (f *fakeLedger) admitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admits
}

func (f *fakeLedger) passportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.passports)
}

func (f *fakeLedger) passport(publicKeyHex string) (domain.Passport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.passports[publicKeyHex]
	if !ok {
		return domain.Passport{}, false
	}
	return *p, true
}

func (f *fakeLedger) ResolveAndAdmit(_ context.Context, params ports.AdmitParams) (domain.Admission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admits++
	f.lastParams = params
	if f.admitErr != nil {
		return domain.Admission{}, f.admitErr
	}

	p, ok := f.passports[params.PublicKeyHex]
	created := false
	if !ok {
		p = &domain.Passport{
			ID:         uuid.New(),
			PassportID: domain.DerivePassportID(params.PublicKeyHex),
			PublicKey:  params.PublicKeyHex,
			Tier:       domain.TierFree,
			UsageLimit: f.limit,
			Status:     domain.StatusActive,
			CreatedAt:  params.RequestedAt,
		}
		f.passports[params.PublicKeyHex] = p
		created = true
	}
	p.LastUsedAt = params.RequestedAt

	canProceed := p.Status == domain.StatusActive && p.UsageCount < p.UsageLimit
	var logID uuid.UUID
	if canProceed {
		p.UsageCount++
		if p.UsageCount >= p.UsageLimit {
			p.Status = domain.StatusLimitReached
		}
		logID = uuid.New()
		f.entries = append(f.entries, domain.UsageLogEntry{
			ID:                 logID,
			PassportRef:        p.ID,
			RequestType:        params.RequestType,
			OccurredAt:         params.RequestedAt,
			IPAddress:          params.IPAddress,
			UserAgent:          params.UserAgent,
			SnippetFingerprint: params.SnippetFingerprint,
			SnippetBytes:       params.SnippetBytes,
		})
	}

	return domain.Admission{
		PassportID: p.PassportID,
		Tier:       p.Tier,
		UsageCount: p.UsageCount,
		UsageLimit: p.UsageLimit,
		Status:     p.Status,
		CanProceed: canProceed,
		Created:    created,
		UsageLogID: logID,
	}, nil
}

func (f *fakeLedger) GetByPassportID(_ context.Context, passportID string) (domain.Passport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *domain.Passport
	for _, p := range f.passports {
		if p.PassportID != passportID {
			continue
		}
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
	}
	if oldest == nil {
		return domain.Passport{}, domain.ErrNotFound
	}
	return *oldest, nil
}

func (f *fakeLedger) ListUsage(_ context.Context, passportID string, limit, offset int) ([]domain.UsageLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ref uuid.UUID
	found := false
	for _, p := range f.passports {
		if p.PassportID == passportID {
			ref = p.ID
			found = true
			break
		}
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var newestFirst []domain.UsageLogEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].PassportRef == ref {
			newestFirst = append(newestFirst, f.entries[i])
		}
	}
	if offset >= len(newestFirst) {
		return nil, nil
	}
	newestFirst = newestFirst[offset:]
	if len(newestFirst) > limit {
		newestFirst = newestFirst[:limit]
	}
	return newestFirst, nil
}

func (f *fakeLedger) RecordTokenUsage(_ context.Context, usageLogID uuid.UUID, tokensUsed int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	for i := range f.entries {
		if f.entries[i].ID == usageLogID {
			t := tokensUsed
			f.entries[i].TokensUsed = &t
			f.recorded[usageLogID] = tokensUsed
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeLedger) recordedTotals() map[uuid.UUID]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]int64, len(f.recorded))
	for id, n := range f.recorded {
		out[id] = n
	}
	return out
}

type fakeVerifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeVerifier) Verify(domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHasher struct{}

func (fakeHasher) Fingerprint(snippet string) string {
	return fmt.Sprintf("fp-%d", len(snippet))
}

type fakeCounters struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
	calls  int
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCounters) IncrWithTTL(_ context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	if f.counts[key] == 1 {
		f.ttls[key] = window
	}
	return f.counts[key], nil
}

func (f *fakeCounters) count(key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key]
}

func (f *fakeCounters) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBackend struct {
	mu      sync.Mutex
	stream  *fakeStream
	openErr error
	opens   int
	lastReq ports.GenerationRequest
}

func (f *fakeBackend) Open(_ context.Context, req ports.GenerationRequest) (ports.CompletionStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.lastReq = req
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func (f *fakeBackend) lastRequest() ports.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// fakeStream replays scripted chunks. Once they run out it returns finalErr
// (io.EOF when unset), or parks on the context when blockAfter is set so
// timeout and cancellation paths have something to interrupt.
type fakeStream struct {
	mu         sync.Mutex
	chunks     []string
	next       int
	finalErr   error
	blockAfter bool
	tokens     *int64
	closed     int
}

func (f *fakeStream) Recv(ctx context.Context) (ports.Chunk, error) {
	f.mu.Lock()
	if f.next < len(f.chunks) {
		content := f.chunks[f.next]
		f.next++
		f.mu.Unlock()
		return ports.Chunk{Content: content}, nil
	}
	blockAfter := f.blockAfter
	finalErr := f.finalErr
	f.mu.Unlock()

	if blockAfter {
		<-ctx.Done()
		return ports.Chunk{}, ctx.Err()
	}
	if finalErr != nil {
		return ports.Chunk{}, finalErr
	}
	return ports.Chunk{}, io.EOF
}

func (f *fakeStream) TokensUsed() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokens == nil {
		return 0, false
	}
	return *f.tokens, true
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// captureSink records frames in arrival order. Like a real transport, a
// Send after cancellation fails and records nothing.
type captureSink struct {
	mu     sync.Mutex
	frames []domain.Frame
	failAt int
	sends  int
	onSend func(domain.Frame)
}

func newCaptureSink() *captureSink {
	return &captureSink{failAt: -1}
}

func (s *captureSink) Send(ctx context.Context, frame domain.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	idx := s.sends
	s.sends++
	if s.failAt >= 0 && idx >= s.failAt {
		s.mu.Unlock()
		return errors.New("sink closed")
	}
	s.frames = append(s.frames, frame)
	cb := s.onSend
	s.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
	return nil
}

func (s *captureSink) snapshot() []domain.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Frame(nil), s.frames...)
}
