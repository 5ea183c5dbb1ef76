package mqttsession

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr error
	}{
		{"EXAMPLE_TOPIC", nil},
		{"sensors/room-1/temp", nil},
		{"/leading/slash", nil},
		{"$SYS/broker/uptime", nil},
		{"", ErrEmptyTopic},
		{"a/+/b", ErrInvalidTopicName},
		{"a/#", ErrInvalidTopicName},
		{"a\x00b", ErrMalformedUTF8},
		{string([]byte{0xC0, 0xAF}), ErrMalformedUTF8},
		{strings.Repeat("a", 65536), ErrMalformedUTF8},
	}

	for _, tt := range tests {
		err := ValidateTopicName(tt.topic)
		if tt.wantErr == nil {
			assert.NoError(t, err, tt.topic)
			continue
		}
		assert.ErrorIs(t, err, tt.wantErr)
	}
}

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		filter string
		valid  bool
	}{
		{"#", true},
		{"+", true},
		{"sports/#", true},
		{"sports/+/player1", true},
		{"+/+/+", true},
		{"$share/group/a/b", true},
		{"sports#", false},
		{"sports/#/ranking", false},
		{"sports+", false},
		{"sports/+x/a", false},
		{"", false},
	}

	for _, tt := range tests {
		err := ValidateTopicFilter(tt.filter)
		assert.Equal(t, tt.valid, err == nil, "%q: %v", tt.filter, err)
	}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"a/#", "a/b/c", true},
		{"sports/#", "sports", true},
		{"#", "anything/at/all", true},
		{"+", "/leading", false},
		{"+/leading", "/leading", true},
		{"#", "$SYS/uptime", false},
		{"+/uptime", "$SYS/uptime", false},
		{"$SYS/#", "$SYS/uptime", true},
		{"a/b/c", "a/b", false},
		{"", "a", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.match, TopicMatch(tt.filter, tt.topic), "%q vs %q", tt.filter, tt.topic)
	}
}

type issuedCall struct {
	kind    string
	filters []string
}

type recordingIssuer struct {
	calls   []issuedCall
	nextID  uint16
	failSub error
}

func (r *recordingIssuer) SubscribeMultiple(filters []string, _ SubscribeOptions, _ *Properties) (uint16, error) {
	if r.failSub != nil {
		return 0, r.failSub
	}
	r.nextID++
	r.calls = append(r.calls, issuedCall{kind: "subscribe", filters: filters})
	return r.nextID, nil
}

func (r *recordingIssuer) Unsubscribe(filter string, _ *Properties) (uint16, error) {
	r.nextID++
	r.calls = append(r.calls, issuedCall{kind: "unsubscribe", filters: []string{filter}})
	return r.nextID, nil
}

func TestTopicRegistry(t *testing.T) {
	t.Run("rejects invalid filters", func(t *testing.T) {
		r := NewTopicRegistry()

		err := r.AddSubscribe("a/#/b")
		var tve *TopicValidationError
		require.ErrorAs(t, err, &tve)
		assert.False(t, tve.Unsubscribe)
		assert.ErrorIs(t, err, ErrTopicValidation)
		assert.ErrorIs(t, err, ErrInvalidTopicFilter)

		err = r.AddUnsubscribe("x+")
		require.ErrorAs(t, err, &tve)
		assert.True(t, tve.Unsubscribe)

		assert.True(t, r.Empty())
	})

	t.Run("keeps insertion order and duplicates", func(t *testing.T) {
		r := NewTopicRegistry()
		for _, f := range []string{"B", "A", "B"} {
			require.NoError(t, r.AddSubscribe(f))
		}
		assert.Equal(t, []string{"B", "A", "B"}, r.Subscriptions())

		subs := r.Subscriptions()
		subs[0] = "changed"
		assert.Equal(t, "B", r.Subscriptions()[0])
	})

	t.Run("flush issues one subscribe then one unsubscribe per filter", func(t *testing.T) {
		r := NewTopicRegistry()
		require.NoError(t, r.AddSubscribe("A"))
		require.NoError(t, r.AddSubscribe("B"))
		require.NoError(t, r.AddUnsubscribe("A"))
		require.NoError(t, r.AddUnsubscribe("C"))

		issuer := &recordingIssuer{}
		result, err := r.Flush(issuer, SubscribeOptions{}, nil, nil)
		require.NoError(t, err)

		assert.Equal(t, []issuedCall{
			{kind: "subscribe", filters: []string{"A", "B"}},
			{kind: "unsubscribe", filters: []string{"A"}},
			{kind: "unsubscribe", filters: []string{"C"}},
		}, issuer.calls)
		assert.Equal(t, uint16(1), result.SubscribeID)
		assert.Equal(t, []uint16{2, 3}, result.UnsubscribeIDs)
	})

	t.Run("unsubscribe only", func(t *testing.T) {
		r := NewTopicRegistry()
		require.NoError(t, r.AddUnsubscribe("MY_TOPIC"))

		issuer := &recordingIssuer{}
		_, err := r.Flush(issuer, SubscribeOptions{}, nil, nil)
		require.NoError(t, err)
		require.Len(t, issuer.calls, 1)
		assert.Equal(t, "unsubscribe", issuer.calls[0].kind)
	})

	t.Run("flush stops on error", func(t *testing.T) {
		r := NewTopicRegistry()
		require.NoError(t, r.AddSubscribe("A"))
		require.NoError(t, r.AddUnsubscribe("A"))

		boom := errors.New("boom")
		issuer := &recordingIssuer{failSub: boom}
		_, err := r.Flush(issuer, SubscribeOptions{}, nil, nil)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, issuer.calls)
	})
}

func FuzzTopicMatch(f *testing.F) {
	f.Add("a/+/c", "a/b/c")
	f.Add("#", "$SYS/x")

	f.Fuzz(func(t *testing.T, filter, topic string) {
		if ValidateTopicFilter(filter) != nil || ValidateTopicName(topic) != nil {
			return
		}
		if filter == topic && !TopicMatch(filter, topic) {
			t.Fatalf("identical filter and topic %q do not match", topic)
		}
	})
}
