package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// fakeStore is an in-memory ConversationStore + ProcessedIndex.
type fakeStore struct {
	mu        sync.Mutex
	convs     map[string]*entity.ConversationSnapshot
	processed map[string]time.Time
	saves     int
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:     make(map[string]*entity.ConversationSnapshot),
		processed: make(map[string]time.Time),
	}
}

func convKey(agent, id string) string { return agent + "/" + id }

func (s *fakeStore) SaveConversation(_ context.Context, snap *entity.ConversationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.convs[convKey(snap.AgentName, snap.ID)] = snap
	return nil
}

func (s *fakeStore) LoadConversation(_ context.Context, agent, id string) (*entity.ConversationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.convs[convKey(agent, id)]
	if !ok {
		return nil, apperrors.NewNotFoundError("conversation " + id)
	}
	return snap, nil
}

func (s *fakeStore) ListConversations(context.Context) ([]repository.ConversationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.ConversationRef
	for _, snap := range s.convs {
		out = append(out, repository.ConversationRef{AgentName: snap.AgentName, ID: snap.ID, LastActivityAt: snap.LastActivityAt})
	}
	return out, nil
}

func (s *fakeStore) DeleteConversation(_ context.Context, agent, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, convKey(agent, id))
	return nil
}

func (s *fakeStore) CleanupOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }

func (s *fakeStore) MarkProcessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[id] = at
	return nil
}

func (s *fakeStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[id]
	return ok, nil
}

func (s *fakeStore) ProcessedAt(_ context.Context, id string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.processed[id]
	return at, ok, nil
}

func (s *fakeStore) snapshot(agent, id string) *entity.ConversationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[convKey(agent, id)]
}

// fakeIdentities is an in-memory IdentityRepository.
type fakeIdentities struct {
	mu    sync.Mutex
	items map[string]*entity.Identity
	saves int
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{items: make(map[string]*entity.Identity)}
}

func (r *fakeIdentities) Find(_ context.Context, slug string) (*entity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.items[slug]
	if !ok {
		return nil, apperrors.NewNotFoundError("identity " + slug)
	}
	cp := *id
	return &cp, nil
}

func (r *fakeIdentities) FindAll(context.Context) ([]*entity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Identity, 0, len(r.items))
	for _, id := range r.items {
		cp := *id
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeIdentities) Save(_ context.Context, identity *entity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[identity.Slug]; ok {
		return apperrors.NewAlreadyExistsError("identity " + identity.Slug)
	}
	cp := *identity
	r.items[identity.Slug] = &cp
	r.saves++
	return nil
}

func (r *fakeIdentities) MarkPublished(_ context.Context, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.items[slug]
	if !ok {
		return apperrors.NewNotFoundError("identity " + slug)
	}
	id.Published = true
	return nil
}

// fakeLLM returns a fixed reply and records what it was sent.
type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	calls    int32
	inflight int32
	peak     int32
	last     []LLMMessage
}

func (f *fakeLLM) GenerateResponse(ctx context.Context, messages []LLMMessage, cfg valueobject.ProviderConfig) (*LLMResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.last = append([]LLMMessage(nil), messages...)
	reply, err := f.reply, f.err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &LLMResponse{
		Content: reply,
		Model:   cfg.Model,
		Usage:   TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}, nil
}

func (f *fakeLLM) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLLM) lastMessages() []LLMMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeResolver struct{ client LLMClient }

func (r fakeResolver) ClientFor(valueobject.ProviderConfig) (LLMClient, error) { return r.client, nil }

// fakePublisher records replies and identities.
type fakePublisher struct {
	mu         sync.Mutex
	replies    []*entity.OutboundReply
	identities []string
	err        error
}

func (p *fakePublisher) PublishReply(_ context.Context, reply *entity.OutboundReply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.replies = append(p.replies, reply)
	return nil
}

func (p *fakePublisher) PublishIdentity(_ context.Context, identity *entity.Identity, _ entity.AgentProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.identities = append(p.identities, identity.Slug)
	return nil
}

func (p *fakePublisher) replyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replies)
}

// recordingEmitter captures emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEmitter) Emit(_ context.Context, eventType string, _ any) {
	e.mu.Lock()
	e.events = append(e.events, eventType)
	e.mu.Unlock()
}

func (e *recordingEmitter) count(eventType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.events {
		if t == eventType {
			n++
		}
	}
	return n
}

// harness wires a registry and dispatcher over fakes.
type harness struct {
	store      *fakeStore
	identities *fakeIdentities
	llm        *fakeLLM
	publisher  *fakePublisher
	events     *recordingEmitter
	registry   *Registry
	dispatcher *Dispatcher
}

func newHarness(opts AgentOptions) *harness {
	h := &harness{
		store:      newFakeStore(),
		identities: newFakeIdentities(),
		llm:        &fakeLLM{reply: "hi"},
		publisher:  &fakePublisher{},
		events:     &recordingEmitter{},
	}
	h.registry = NewRegistry(opts, RegistryDeps{
		Identities:        h.identities,
		IdentityPublisher: h.publisher,
		Agent: AgentDeps{
			Store:     h.store,
			Providers: fakeResolver{client: h.llm},
		},
		Events: h.events,
	})
	h.registry.ReplaceProviderConfigs(map[string]valueobject.ProviderConfig{
		"main": {Provider: "anthropic", Model: "test-model", APIKey: "k"},
	}, "main")
	h.dispatcher = NewDispatcher(DispatcherDeps{
		Registry:  h.registry,
		Processed: h.store,
		Publisher: h.publisher,
		Events:    h.events,
	})
	return h
}
