package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tidepool/internal/domain"
	chatModels "tidepool/internal/domain/models/chat"
	chatSvc "tidepool/internal/domain/services/chat"
)

type fakeConvRepo struct {
	convs          map[string]*chatModels.Conversation
	modelUpdates   int
	searchUpdates  int
	sourcesUpdates int
}

func newFakeConvRepo(convs ...*chatModels.Conversation) *fakeConvRepo {
	r := &fakeConvRepo{convs: make(map[string]*chatModels.Conversation)}
	for _, c := range convs {
		r.convs[c.ID] = c
	}
	return r
}

func (r *fakeConvRepo) Create(ctx context.Context, conv *chatModels.Conversation) error {
	r.convs[conv.ID] = conv
	return nil
}

func (r *fakeConvRepo) Get(ctx context.Context, id string) (*chatModels.Conversation, error) {
	conv, ok := r.convs[id]
	if !ok {
		return nil, &domain.NotFoundError{Message: "conversation " + id}
	}
	return conv, nil
}

func (r *fakeConvRepo) List(ctx context.Context) ([]chatModels.Conversation, error) {
	var out []chatModels.Conversation
	for _, c := range r.convs {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeConvRepo) UpdateModel(ctx context.Context, id, supplier, model, parameters string) error {
	r.modelUpdates++
	return nil
}

func (r *fakeConvRepo) UpdateSearchType(ctx context.Context, id, searchType string) error {
	r.searchUpdates++
	return nil
}

func (r *fakeConvRepo) UpdateRetrievalSources(ctx context.Context, id string, sources []string) error {
	r.sourcesUpdates++
	return nil
}

type fakeTurnRepo struct {
	history   []chatModels.Turn
	pairs     [][2]*chatModels.Turn
	updated   []*chatModels.Turn
	truncated []string
}

func (r *fakeTurnRepo) CreatePair(ctx context.Context, user, assistant *chatModels.Turn) error {
	userCopy := *user
	assistantCopy := *assistant
	r.pairs = append(r.pairs, [2]*chatModels.Turn{&userCopy, &assistantCopy})
	return nil
}

func (r *fakeTurnRepo) UpdateAssistant(ctx context.Context, turn *chatModels.Turn) error {
	copied := *turn
	r.updated = append(r.updated, &copied)
	return nil
}

func (r *fakeTurnRepo) List(ctx context.Context, conversationID string) ([]chatModels.Turn, error) {
	return r.history, nil
}

func (r *fakeTurnRepo) TruncateFrom(ctx context.Context, conversationID, turnID string) error {
	r.truncated = append(r.truncated, turnID)
	return nil
}

type fakeProvider struct {
	name    string
	deltas  []chatSvc.Delta
	openErr error
	opened  int
	gotMsgs []chatModels.Message
	gotSel  chatModels.ModelSelector
	gotOpts *chatSvc.ChatOptions
	onOpen  func(opts *chatSvc.ChatOptions)
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Open(ctx context.Context, messages []chatModels.Message, sel chatModels.ModelSelector, opts *chatSvc.ChatOptions) (<-chan chatSvc.Delta, error) {
	p.opened++
	p.gotMsgs = messages
	p.gotSel = sel
	p.gotOpts = opts
	if p.openErr != nil {
		return nil, p.openErr
	}
	if p.onOpen != nil {
		p.onOpen(opts)
	}
	return deltaChan(p.deltas...), nil
}

type fakeDirectory struct {
	local  *fakeProvider
	compat *fakeProvider
	tool   *fakeProvider
}

func (d *fakeDirectory) Local() chatSvc.Provider { return d.local }

func (d *fakeDirectory) Compat(supplier string) (chatSvc.Provider, error) {
	if d.compat == nil {
		return nil, &domain.ValidationError{Message: "unknown supplier " + supplier}
	}
	return d.compat, nil
}

func (d *fakeDirectory) Tool(supplier string) (chatSvc.Provider, error) {
	if d.tool == nil {
		return nil, &domain.ValidationError{Message: "unknown supplier " + supplier}
	}
	return d.tool, nil
}

func newTestService(t *testing.T, convs *fakeConvRepo, turns *fakeTurnRepo, dir *fakeDirectory) *Service {
	t.Helper()
	builder := NewContextBuilder(testCaps(t), nil, nil, nil, nil, testLogger())
	defaults := ModelDefaults{Supplier: "ollama", Model: "llama", Parameters: "3b"}
	return NewService(convs, turns, builder, dir, NewCancelRegistry(), NewUsageRecorder(), testCatalog(t), defaults, testLogger())
}

func localConv() *chatModels.Conversation {
	return &chatModels.Conversation{
		ID:         "c1",
		Title:      "test",
		Supplier:   "ollama",
		Model:      "llama",
		Parameters: "3b",
		CreatedAt:  time.Now(),
	}
}

func TestChatHelloEndToEnd(t *testing.T) {
	provider := &fakeProvider{name: "ollama", deltas: []chatSvc.Delta{
		{Content: "Hi"},
		{Content: " there"},
		{Done: true, Stat: &chatModels.GenStats{Model: "llama:3b", EvalCount: 2}},
	}}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: provider})

	var frags []string
	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Supplier:       "ollama",
		Model:          "llama",
		Parameters:     "3b",
		Content:        "hello",
	}, collectSink(&frags))
	require.NoError(t, err)

	require.Equal(t, []string{"Hi", " there"}, frags)

	// Placeholder pair persisted before streaming, assistant updated after.
	require.Len(t, turns.pairs, 1)
	require.Equal(t, "user", turns.pairs[0][0].Role)
	require.Equal(t, "hello", turns.pairs[0][0].Content)
	require.Equal(t, "assistant", turns.pairs[0][1].Role)
	require.Empty(t, turns.pairs[0][1].Content)

	require.Len(t, turns.updated, 1)
	final := turns.updated[0]
	require.Equal(t, "Hi there", final.Content)
	require.Empty(t, final.Reasoning)
	require.Equal(t, "llama:3b", final.Stat.Model)

	require.Equal(t, 1, svc.Usage()["llama:3b"])
	require.Equal(t, chatModels.ModelSelector{Supplier: "ollama", Model: "llama", Parameters: "3b"}, provider.gotSel)
}

func TestChatSplitsReasoningBeforePersistence(t *testing.T) {
	provider := &fakeProvider{name: "deepseek", deltas: []chatSvc.Delta{
		{Reasoning: "pondering"},
		{Content: "answer"},
		{Done: true, Stat: &chatModels.GenStats{Model: "deepseek-chat"}},
	}}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{compat: provider})

	var frags []string
	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Supplier:       "deepseek",
		Model:          "deepseek-chat",
		Content:        "why",
	}, collectSink(&frags))
	require.NoError(t, err)

	require.Len(t, turns.updated, 1)
	final := turns.updated[0]
	require.Equal(t, "answer", final.Content)
	require.Equal(t, chatModels.ReasoningOpen+"pondering"+chatModels.ReasoningClose, final.Reasoning)
	require.NotContains(t, final.Content, "<think>")
}

func TestChatCancellationPersistsNotice(t *testing.T) {
	provider := &fakeProvider{name: "ollama", deltas: []chatSvc.Delta{
		{Content: "partial"},
		{Content: "never sent"},
		{Done: true},
	}}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: provider})

	var frags []string
	sink := func(fragment string) error {
		frags = append(frags, fragment)
		if fragment == "partial" {
			require.True(t, svc.Stop("c1"))
		}
		return nil
	}

	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Content:        "hello",
	}, sink)
	require.NoError(t, err)

	require.Len(t, turns.updated, 1)
	final := turns.updated[0]
	require.True(t, strings.HasSuffix(final.Content, "generation stopped by the user"))
	require.NotContains(t, final.Content, "never sent")
	require.Nil(t, final.Stat)
}

// abortingProvider mimics a real backend: the stream ends as soon as the
// turn's context is cancelled, with no further delta.
type abortingProvider struct{}

func (p *abortingProvider) Name() string { return "ollama" }

func (p *abortingProvider) Open(ctx context.Context, _ []chatModels.Message, _ chatModels.ModelSelector, _ *chatSvc.ChatOptions) (<-chan chatSvc.Delta, error) {
	ch := make(chan chatSvc.Delta, 1)
	ch <- chatSvc.Delta{Content: "partial"}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type abortingDirectory struct{ p chatSvc.Provider }

func (d *abortingDirectory) Local() chatSvc.Provider                 { return d.p }
func (d *abortingDirectory) Compat(string) (chatSvc.Provider, error) { return d.p, nil }
func (d *abortingDirectory) Tool(string) (chatSvc.Provider, error)   { return d.p, nil }

func TestChatStopAbortsBackendAndPersistsNotice(t *testing.T) {
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	builder := NewContextBuilder(testCaps(t), nil, nil, nil, nil, testLogger())
	defaults := ModelDefaults{Supplier: "ollama", Model: "llama", Parameters: "3b"}
	svc := NewService(convs, turns, builder, &abortingDirectory{p: &abortingProvider{}}, NewCancelRegistry(), NewUsageRecorder(), testCatalog(t), defaults, testLogger())

	var frags []string
	sink := func(fragment string) error {
		frags = append(frags, fragment)
		if fragment == "partial" {
			require.True(t, svc.Stop("c1"))
		}
		return nil
	}

	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Content:        "hello",
	}, sink)
	require.NoError(t, err)

	require.Len(t, turns.updated, 1)
	final := turns.updated[0]
	require.True(t, strings.HasSuffix(final.Content, "generation stopped by the user"))
	require.Nil(t, final.Stat)
	require.Contains(t, strings.Join(frags, ""), "generation stopped by the user")
}

func TestChatPreStreamFailureLeavesPlaceholderEmpty(t *testing.T) {
	provider := &fakeProvider{name: "ollama", openErr: &domain.ConnectionError{Message: "dial tcp: refused"}}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: provider})

	var frags []string
	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Content:        "hello",
	}, collectSink(&frags))

	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrConnection)
	require.Empty(t, frags, "stream never opened")
	require.Empty(t, turns.updated, "placeholder remains empty")
	require.Contains(t, svc.LocalizeError(err), "error calling the model backend")
}

func TestChatUnknownConversation(t *testing.T) {
	svc := newTestService(t, newFakeConvRepo(), &fakeTurnRepo{}, &fakeDirectory{})

	err := svc.Chat(context.Background(), &ChatRequest{ConversationID: "ghost", Content: "hi"}, collectSink(&[]string{}))
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, "conversation not found", svc.LocalizeError(err))
}

func TestChatValidation(t *testing.T) {
	svc := newTestService(t, newFakeConvRepo(), &fakeTurnRepo{}, &fakeDirectory{})

	err := svc.Chat(context.Background(), &ChatRequest{ConversationID: "c1"}, collectSink(&[]string{}))
	require.ErrorIs(t, err, domain.ErrValidation)

	err = svc.Chat(context.Background(), &ChatRequest{Content: "hi"}, collectSink(&[]string{}))
	require.ErrorIs(t, err, domain.ErrValidation, "conversation id required unless temporary")
}

func TestChatToolServersForceToolPath(t *testing.T) {
	local := &fakeProvider{name: "ollama"}
	tool := &fakeProvider{name: "openai"}
	tool.deltas = []chatSvc.Delta{{Content: "done"}, {Done: true}}
	tool.onOpen = func(opts *chatSvc.ChatOptions) {
		opts.SideChannel("\n" + chatSvc.ToolOutputMarker + "get_weather: rain</tool_call>\n")
	}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: local, tool: tool})

	var frags []string
	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Supplier:       "ollama",
		Model:          "llama",
		Parameters:     "3b",
		Content:        "weather?",
		ToolServers:    []string{"weather"},
	}, collectSink(&frags))
	require.NoError(t, err)

	require.Equal(t, 0, local.opened, "tool routing overrides the local path")
	require.Equal(t, 1, tool.opened)
	require.Equal(t, []string{"weather"}, tool.gotOpts.ToolServers)

	require.Len(t, turns.updated, 1)
	require.Len(t, turns.updated[0].ToolResults, 1)
	require.Contains(t, turns.updated[0].ToolResults[0], "get_weather")
	require.Contains(t, strings.Join(frags, ""), "get_weather: rain")
}

func TestChatRegenerateTruncatesFirst(t *testing.T) {
	provider := &fakeProvider{name: "ollama", deltas: []chatSvc.Delta{{Content: "again"}, {Done: true}}}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: provider})

	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Content:        "retry",
		RegenerateID:   "t9",
	}, collectSink(&[]string{}))
	require.NoError(t, err)

	require.Equal(t, []string{"t9"}, turns.truncated)
}

func TestChatTempConversationSkipsPersistence(t *testing.T) {
	provider := &fakeProvider{name: "ollama", deltas: []chatSvc.Delta{{Content: "ephemeral"}, {Done: true}}}
	convs := newFakeConvRepo()
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: provider})

	var frags []string
	err := svc.Chat(context.Background(), &ChatRequest{
		Content:          "hello",
		TempConversation: true,
	}, collectSink(&frags))
	require.NoError(t, err)

	require.Equal(t, []string{"ephemeral"}, frags)
	require.Empty(t, turns.pairs)
	require.Empty(t, turns.updated)
}

func TestChatSyncsConversationModel(t *testing.T) {
	provider := &fakeProvider{name: "ollama", deltas: []chatSvc.Delta{{Done: true}}}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: provider})

	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Supplier:       "ollama",
		Model:          "qwen2.5",
		Parameters:     "7b",
		Content:        "hi",
	}, collectSink(&[]string{}))
	require.NoError(t, err)

	require.Equal(t, 1, convs.modelUpdates)
}

func TestChatHistoryInterleaving(t *testing.T) {
	provider := &fakeProvider{name: "ollama", deltas: []chatSvc.Delta{{Done: true}}}
	convs := newFakeConvRepo(localConv())
	turns := &fakeTurnRepo{history: []chatModels.Turn{
		{Role: "user", Content: "U1"},
		{Role: "assistant", Content: "A1"},
		{Role: "user", Content: "U2"},
	}}
	svc := newTestService(t, convs, turns, &fakeDirectory{local: provider})

	err := svc.Chat(context.Background(), &ChatRequest{
		ConversationID: "c1",
		Content:        "U3",
	}, collectSink(&[]string{}))
	require.NoError(t, err)

	var roles []string
	for _, m := range provider.gotMsgs {
		roles = append(roles, m.Role+":"+m.Content)
	}
	require.Equal(t, []string{"user:U1", "assistant:A1", "user:U2", "user:U3"}, roles)
}

func TestCreateConversationDefaults(t *testing.T) {
	convs := newFakeConvRepo()
	svc := newTestService(t, convs, &fakeTurnRepo{}, &fakeDirectory{})

	conv, err := svc.CreateConversation(context.Background(), &CreateConversationRequest{})
	require.NoError(t, err)
	require.Equal(t, "New chat", conv.Title)
	require.Equal(t, "ollama", conv.Supplier)
	require.Equal(t, "llama", conv.Model)
	require.Equal(t, "3b", conv.Parameters)
	require.NotEmpty(t, conv.ID)
}

func TestChatErrorIsNotLocalizedTwice(t *testing.T) {
	svc := newTestService(t, newFakeConvRepo(), &fakeTurnRepo{}, &fakeDirectory{})
	plain := errors.New("boom")
	require.Equal(t, "boom", svc.LocalizeError(plain))
}
