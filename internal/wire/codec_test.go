package wire

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePublish(t *testing.T) {
	var buf bytes.Buffer
	to := 5.0
	payload := &PublishPayload{
		Cmd: "publish", Tgt: "*", Fun: "test.ping", Arg: []any{}, Key: "k",
		TgtType: "glob", Ret: "", JID: "", To: &to,
	}
	require.NoError(t, EncodePublishPayload(&buf, payload))

	var decoded PublishPayload
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "publish", decoded.Cmd)
	assert.Equal(t, 5.0, *decoded.To)
}

func TestDecodePublishReply_Empty(t *testing.T) {
	_, err := DecodePublishReply(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestDecodePublishReply(t *testing.T) {
	reply, err := DecodePublishReply(bytes.NewReader([]byte(`{"jid":"123","minions":["a","b"]}`)))
	require.NoError(t, err)
	assert.Equal(t, "123", reply.JID)
	assert.Equal(t, []string{"a", "b"}, reply.Minions)
}

func TestDecodeReturn_Null(t *testing.T) {
	v, isNull, err := DecodeReturn([]byte(`null`))
	require.NoError(t, err)
	assert.True(t, isNull)
	assert.Nil(t, v)
}

func TestDecodeReturn_Value(t *testing.T) {
	v, isNull, err := DecodeReturn([]byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, map[string]any{"ok": true}, v)
}

func TestDecodeBusEvent_Syndic(t *testing.T) {
	ev, err := DecodeBusEvent([]byte(`{"syndic":["c","d"]}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Syndic)
	assert.Equal(t, []string{"c", "d"}, ev.Syndic.Syndic)
	assert.Nil(t, ev.Reply)
}

func TestDecodeBusEvent_Reply(t *testing.T) {
	ev, err := DecodeBusEvent([]byte(`{"id":"b","return":7}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Reply)
	assert.Equal(t, "b", ev.Reply.ID)
	assert.InDelta(t, 7, ev.Reply.Ret, 0)
}

func TestDecodeBusEvent_Invalid(t *testing.T) {
	_, err := DecodeBusEvent([]byte(`{}`))
	require.Error(t, err)
}
