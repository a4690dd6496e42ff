package protocol

import (
	"encoding/json"
	"lototet/internal/model"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_EnvelopeShape(t *testing.T) {
	data, err := Encode(NumberDrawn{Number: 47, Text: "bốn mươi bảy"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"numberDrawn","payload":{"number":47,"text":"bốn mươi bảy"}}`, string(data))

	data, err = Encode(WinClaim{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"winClaim"}`, string(data))
}

func TestDecode_EveryTag(t *testing.T) {
	sheet := model.Sheet{{}, {}, {}}
	sheet[0][0][0] = 5
	msgs := []Message{
		Welcome{Name: "Lan", Ticket: sheet, GameState: model.GameState{CalledNumbers: []int{5, 12}, GameStarted: true}},
		NumberDrawn{Number: 90, Text: "chín mươi"},
		WinClaim{},
		WinConfirmed{WinnerName: "Lan"},
		WinRejected{},
		TicketUpdate{Ticket: sheet},
		WaitSignal{},
		Toast{Message: "hi", Style: ToastInfo},
		GameReset{},
		Ping{},
		Pong{},
		Emote{Emoji: "🎉", SenderID: HostSenderID},
	}
	for _, m := range msgs {
		data, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err, "type %s", m.Type())
		assert.Equal(t, m, got)
	}
}

func TestDecode_UnknownTypeIsIgnorable(t *testing.T) {
	_, err := Decode([]byte(`{"type":"gameState","payload":{"calledNumbers":[1]}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{}`, `{"type":"numberDrawn","payload":{"number":"x"}}`} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestDecode_PayloadIdentityIsData(t *testing.T) {
	// a spoofed sender id in the payload decodes as plain data; only the
	// transport identity passed to Dispatch names the sender
	m, err := Decode([]byte(`{"type":"winClaim","payload":{"peerId":"loto-ABCDEF"}}`))
	require.NoError(t, err)
	assert.Equal(t, WinClaim{}, m)
}

type recorder struct {
	NopHandler
	from  string
	calls []MessageType
}

func (r *recorder) OnWinClaim(from string, m WinClaim) {
	r.from = from
	r.calls = append(r.calls, m.Type())
}

func (r *recorder) OnEmote(from string, m Emote) {
	r.from = from
	r.calls = append(r.calls, m.Type())
}

func TestDispatch_RoutesByType(t *testing.T) {
	r := &recorder{}
	require.NoError(t, Dispatch("p_1234", WinClaim{}, r))
	require.NoError(t, Dispatch("p_5678", Emote{Emoji: "👏"}, r))
	require.NoError(t, Dispatch("p_5678", Ping{}, r))

	assert.Equal(t, []MessageType{TypeWinClaim, TypeEmote}, r.calls)
	assert.Equal(t, "p_5678", r.from)
}

type bogus struct{}

func (bogus) Type() MessageType { return "bogus" }
func (bogus) isMessage()        {}

func TestDispatch_UnknownMessage(t *testing.T) {
	assert.ErrorIs(t, Dispatch("x", bogus{}, NopHandler{}), ErrUnknownType)
}

func TestMetadata(t *testing.T) {
	raw, err := EncodeMetadata(JoinMetadata{Name: "Minh", IsReconnect: true})
	require.NoError(t, err)
	m, err := DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "Minh", m.Name)
	assert.True(t, m.IsReconnect)

	m, err = DecodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, JoinMetadata{}, m)

	_, err = DecodeMetadata(json.RawMessage(`{"name":`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMetadata_ClipsLongName(t *testing.T) {
	long, _ := json.Marshal(JoinMetadata{Name: strings.Repeat("ắ", 40)})
	m, err := DecodeMetadata(long)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ắ", MaxNameLength), m.Name)
}

func TestMetadata_BadTicketKeepsName(t *testing.T) {
	row := `[1,2,3,4,5,0,0,0,0]`
	raw := json.RawMessage(`{"name":"Lan","isReconnect":true,"ticket":[[` + row + `,` + row + `,` + row + `,` + row + `]]}`)
	m, err := DecodeMetadata(raw)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, "Lan", m.Name)
	assert.True(t, m.IsReconnect)
	assert.Nil(t, m.Ticket)
}
