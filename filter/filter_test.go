package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/domain"
)

type fakeAccess struct {
	paused            map[string]bool
	blacklistedGroups map[string]bool
	blockedEnterprise map[string]bool
}

func (f *fakeAccess) IsUserPaused(_ context.Context, senderID string) (bool, error) {
	return f.paused[senderID], nil
}

func (f *fakeAccess) IsGroupBlacklisted(_ context.Context, chatID string) (bool, error) {
	return f.blacklistedGroups[chatID], nil
}

func (f *fakeAccess) IsEnterpriseGroupBlocked(_ context.Context, groupID string) (bool, error) {
	return f.blockedEnterprise[groupID], nil
}

func baseRecord() domain.InboundRecord {
	return domain.InboundRecord{
		SenderID:    "u1",
		ChatID:      "c1",
		Source:      domain.SourceMobilePush,
		ContactType: domain.ContactPersonalWeChat,
		MessageType: domain.MessageTypeText,
		Content:     "hello",
	}
}

func Test_Evaluate_PassesWellFormedTextMessage(t *testing.T) {
	f := New(&fakeAccess{})
	result, err := f.Evaluate(context.Background(), baseRecord())
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, result.Verdict)
	assert.Equal(t, "hello", result.ExtractedContent)
}

func Test_Evaluate_RejectsSelfSentMessages(t *testing.T) {
	f := New(&fakeAccess{})
	rec := baseRecord()
	rec.IsSelf = true
	result, err := f.Evaluate(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, VerdictReject, result.Verdict)
	assert.Equal(t, "is_self", result.Reason)
}

func Test_Evaluate_RejectsPausedUsers(t *testing.T) {
	f := New(&fakeAccess{paused: map[string]bool{"u1": true}})
	result, err := f.Evaluate(context.Background(), baseRecord())
	require.NoError(t, err)
	assert.Equal(t, VerdictReject, result.Verdict)
	assert.Equal(t, "user_paused", result.Reason)
}

func Test_Evaluate_RecordsOnlyForBlacklistedGroups(t *testing.T) {
	f := New(&fakeAccess{blacklistedGroups: map[string]bool{"c1": true}})
	result, err := f.Evaluate(context.Background(), baseRecord())
	require.NoError(t, err)
	assert.Equal(t, VerdictRecordOnly, result.Verdict)
	assert.Equal(t, "group_blacklisted", result.Reason)
}

func Test_Evaluate_RejectsBlockedEnterpriseGroups(t *testing.T) {
	f := New(&fakeAccess{blockedEnterprise: map[string]bool{"g1": true}})
	rec := baseRecord()
	rec.APIVariant = domain.APIVariantEnterprise
	rec.GroupID = "g1"
	result, err := f.Evaluate(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, VerdictReject, result.Verdict)
	assert.Equal(t, "enterprise_group_blocked", result.Reason)
}

func Test_Evaluate_GroupVariantIsNeverEnterpriseGroupBlocked(t *testing.T) {
	f := New(&fakeAccess{blockedEnterprise: map[string]bool{"g1": true}})
	rec := baseRecord()
	rec.APIVariant = domain.APIVariantGroup
	rec.GroupID = "g1"
	result, err := f.Evaluate(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, result.Verdict, "enterprise-group-block rule must not fire for the group api variant")
}

func Test_Evaluate_RejectsRoomMessages(t *testing.T) {
	f := New(&fakeAccess{})
	rec := baseRecord()
	rec.IsRoom = true
	rec.Mentioned = []string{"bot"}
	result, err := f.Evaluate(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, VerdictReject, result.Verdict)
	assert.True(t, result.IsMentioned)
}

func Test_Evaluate_RejectsUnsupportedMessageTypes(t *testing.T) {
	f := New(&fakeAccess{})
	rec := baseRecord()
	rec.MessageType = domain.MessageTypeImage
	result, err := f.Evaluate(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, VerdictReject, result.Verdict)
	assert.Equal(t, "unsupported_message_type", result.Reason)
}

func Test_Evaluate_RejectsEmptyContent(t *testing.T) {
	f := New(&fakeAccess{})
	rec := baseRecord()
	rec.Content = "   "
	result, err := f.Evaluate(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, VerdictReject, result.Verdict)
	assert.Equal(t, "empty_content", result.Reason)
}

func Test_ExtractContent_LocationWithDistinctNameAndAddress(t *testing.T) {
	rec := baseRecord()
	rec.MessageType = domain.MessageTypeLocation
	rec.Location = &domain.LocationPayload{Name: "Coffee Shop", Address: "123 Main St"}
	assert.Equal(t, "[位置分享] Coffee Shop（123 Main St）", extractContent(rec))
}

func Test_ExtractContent_LocationWithIdenticalNameAndAddress(t *testing.T) {
	rec := baseRecord()
	rec.MessageType = domain.MessageTypeLocation
	rec.Location = &domain.LocationPayload{Name: "123 Main St", Address: "123 Main St"}
	assert.Equal(t, "[位置分享] 123 Main St", extractContent(rec))
}
