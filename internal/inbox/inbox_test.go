package inbox

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/internal/conversation"
	"github.com/omnidesk/omnidesk/internal/message"
	"github.com/omnidesk/omnidesk/internal/platform"
)

type fakeResolver struct {
	conv conversation.Conversation
	err  error
}

func (f *fakeResolver) Resolve(context.Context, platform.InboundEvent) (conversation.Conversation, error) {
	return f.conv, f.err
}

type fakeConversations struct {
	conv            conversation.Conversation
	applyInboundErr error
	inboundCalls    int
	outboundCalls   int
}

func (f *fakeConversations) Get(context.Context, string) (conversation.Conversation, error) {
	return f.conv, nil
}

func (f *fakeConversations) ApplyInbound(_ context.Context, _ string, _ time.Time) (conversation.Conversation, error) {
	f.inboundCalls++
	if f.applyInboundErr != nil {
		return conversation.Conversation{}, f.applyInboundErr
	}
	updated := f.conv
	updated.UnreadCount++
	if updated.Status == conversation.StatusNew {
		updated.Status = conversation.StatusInProgress
	}
	return updated, nil
}

func (f *fakeConversations) ApplyOutbound(_ context.Context, _ string, _ time.Time) (conversation.Conversation, error) {
	f.outboundCalls++
	return f.conv, nil
}

func (f *fakeConversations) Assign(_ context.Context, id, userID string) (conversation.Conversation, error) {
	conv := f.conv
	conv.ID = id
	conv.AssignedTo = userID
	return conv, nil
}

func (f *fakeConversations) UpdateStatus(_ context.Context, id string, status conversation.Status) (conversation.Conversation, error) {
	conv := f.conv
	conv.ID = id
	conv.Status = status
	return conv, nil
}

func (f *fakeConversations) MarkRead(_ context.Context, id string) (conversation.Conversation, error) {
	conv := f.conv
	conv.ID = id
	conv.UnreadCount = 0
	return conv, nil
}

type fakeMessages struct {
	created    []message.CreateInput
	createErr  error
	deliveries []delivery
}

type delivery struct {
	messageID         string
	platformMessageID string
	raw               map[string]any
}

func (f *fakeMessages) Create(_ context.Context, input message.CreateInput) (message.Message, error) {
	if f.createErr != nil {
		return message.Message{}, f.createErr
	}
	f.created = append(f.created, input)
	return message.Message{
		ID:             "msg-" + strconv.Itoa(len(f.created)),
		ConversationID: input.ConversationID,
		SenderType:     input.SenderType,
		Content:        input.Content,
		IsRead:         input.IsRead,
	}, nil
}

func (f *fakeMessages) MarkConversationRead(context.Context, string) ([]string, error) {
	return []string{"msg-1", "msg-2"}, nil
}

func (f *fakeMessages) AttachDelivery(_ context.Context, id, platformMessageID string, raw map[string]any) error {
	f.deliveries = append(f.deliveries, delivery{id, platformMessageID, raw})
	return nil
}

type fakeSender struct {
	result platform.SendResult
	err    error
	sends  []platform.SendRequest
}

func (f *fakeSender) Send(_ context.Context, _ platform.Platform, req platform.SendRequest) (platform.SendResult, error) {
	f.sends = append(f.sends, req)
	if f.err != nil {
		return platform.SendResult{}, f.err
	}
	return f.result, nil
}

type fakeNotifier struct {
	newMessages   int
	convUpdates   int
	assigns       []string
	statusUpdates []string
	readsUserID   string
	readsIDs      []string
}

func (f *fakeNotifier) NotifyNewMessage(string, any) { f.newMessages++ }

func (f *fakeNotifier) NotifyConversationUpdated(string, map[string]any) { f.convUpdates++ }

func (f *fakeNotifier) NotifyAssigned(_, assignedTo string) {
	f.assigns = append(f.assigns, assignedTo)
}

func (f *fakeNotifier) NotifyStatusUpdated(_, status string) {
	f.statusUpdates = append(f.statusUpdates, status)
}

func (f *fakeNotifier) NotifyMessagesRead(_, userID string, ids []string) {
	f.readsUserID = userID
	f.readsIDs = ids
}

func newFixture() (*Service, *fakeResolver, *fakeConversations, *fakeMessages, *fakeSender, *fakeNotifier) {
	conv := conversation.Conversation{
		ID:         "conv-1",
		Platform:   platform.PlatformWhatsApp,
		PlatformID: "15551234567",
		Status:     conversation.StatusNew,
	}
	resolver := &fakeResolver{conv: conv}
	conversations := &fakeConversations{conv: conv}
	messages := &fakeMessages{}
	sender := &fakeSender{result: platform.SendResult{PlatformMessageID: "wamid.OUT"}}
	notifier := &fakeNotifier{}
	svc := NewService(nil, resolver, conversations, messages, sender, notifier)
	return svc, resolver, conversations, messages, sender, notifier
}

func TestHandleInbound(t *testing.T) {
	t.Parallel()
	svc, _, conversations, messages, _, notifier := newFixture()

	err := svc.HandleInbound(context.Background(), platform.InboundEvent{
		Platform:          platform.PlatformWhatsApp,
		PlatformID:        "15551234567",
		Content:           "Hi",
		MessageType:       platform.MessageTypeText,
		PlatformMessageID: "wamid.X",
		Timestamp:         time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)

	require.Len(t, messages.created, 1)
	created := messages.created[0]
	assert.Equal(t, "conv-1", created.ConversationID)
	assert.Equal(t, platform.SenderCustomer, created.SenderType)
	assert.Equal(t, "Hi", created.Content)
	assert.False(t, created.IsRead)
	assert.Equal(t, "wamid.X", created.Metadata["platformMessageId"])

	assert.Equal(t, 1, conversations.inboundCalls)
	assert.Equal(t, 1, notifier.newMessages)
	assert.Equal(t, 1, notifier.convUpdates)
}

func TestHandleInbound_ResolveFailure(t *testing.T) {
	t.Parallel()
	svc, resolver, _, messages, _, notifier := newFixture()
	resolver.err = errors.New("db down")

	err := svc.HandleInbound(context.Background(), platform.InboundEvent{Platform: platform.PlatformWhatsApp, PlatformID: "1"})
	assert.Error(t, err)
	assert.Empty(t, messages.created)
	assert.Zero(t, notifier.newMessages)
}

func TestHandleInbound_AggregateFailureTolerated(t *testing.T) {
	t.Parallel()
	svc, _, conversations, messages, _, notifier := newFixture()
	conversations.applyInboundErr = errors.New("counter update lost")

	err := svc.HandleInbound(context.Background(), platform.InboundEvent{
		Platform:   platform.PlatformWhatsApp,
		PlatformID: "15551234567",
		Content:    "Hi",
	})
	require.NoError(t, err)
	assert.Len(t, messages.created, 1)
	assert.Equal(t, 1, notifier.newMessages)
}

func TestSendToCustomer(t *testing.T) {
	t.Parallel()
	svc, _, conversations, messages, sender, notifier := newFixture()

	msg, err := svc.SendToCustomer(context.Background(), SendInput{
		ConversationID: "conv-1",
		AgentID:        "agent-1",
		Content:        "Happy to help",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT", msg.PlatformMessageID)

	require.Len(t, messages.created, 1)
	assert.Equal(t, platform.SenderAgent, messages.created[0].SenderType)
	assert.True(t, messages.created[0].IsRead)

	require.Len(t, sender.sends, 1)
	assert.Equal(t, "15551234567", sender.sends[0].To)

	require.Len(t, messages.deliveries, 1)
	assert.Equal(t, "wamid.OUT", messages.deliveries[0].platformMessageID)

	assert.Equal(t, 1, conversations.outboundCalls)
	assert.Equal(t, 1, notifier.newMessages)
}

func TestSendToCustomer_DeliveryFailureKeepsMessage(t *testing.T) {
	t.Parallel()
	svc, _, _, messages, sender, notifier := newFixture()
	sender.err = errors.New("api unreachable")

	msg, err := svc.SendToCustomer(context.Background(), SendInput{
		ConversationID: "conv-1",
		AgentID:        "agent-1",
		Content:        "Happy to help",
	})
	require.NoError(t, err)
	assert.Empty(t, msg.PlatformMessageID)

	require.Len(t, messages.deliveries, 1)
	assert.Equal(t, "api unreachable", messages.deliveries[0].raw["error"])
	assert.Equal(t, 1, notifier.newMessages)
}

func TestSendToCustomer_EmptyContent(t *testing.T) {
	t.Parallel()
	svc, _, _, messages, _, _ := newFixture()

	_, err := svc.SendToCustomer(context.Background(), SendInput{ConversationID: "conv-1", Content: "   "})
	assert.Error(t, err)
	assert.Empty(t, messages.created)
}

func TestAssign(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, notifier := newFixture()

	conv, err := svc.Assign(context.Background(), "conv-1", "agent-9")
	require.NoError(t, err)
	assert.Equal(t, "agent-9", conv.AssignedTo)
	assert.Equal(t, []string{"agent-9"}, notifier.assigns)
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, notifier := newFixture()

	conv, err := svc.UpdateStatus(context.Background(), "conv-1", conversation.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusResolved, conv.Status)
	assert.Equal(t, []string{"resolved"}, notifier.statusUpdates)
}

func TestMarkRead(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, notifier := newFixture()

	conv, err := svc.MarkRead(context.Background(), "conv-1", "agent-1")
	require.NoError(t, err)
	assert.Zero(t, conv.UnreadCount)
	assert.Equal(t, "agent-1", notifier.readsUserID)
	assert.Equal(t, []string{"msg-1", "msg-2"}, notifier.readsIDs)
}
