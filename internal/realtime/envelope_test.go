package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/galadrimteam/quakewatch/internal/quake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeControlEnvelopeHasNoPayload(t *testing.T) {
	for _, kind := range []Kind{KindRequestData, KindPing, KindPong} {
		env := Envelope{Type: kind, Data: json.RawMessage(`{"x":1}`), Message: "ignored", Timestamp: 42}
		raw, err := EncodeEnvelope(env)
		require.NoError(t, err)

		var fields map[string]any
		require.NoError(t, json.Unmarshal(raw, &fields))
		assert.Equal(t, string(kind), fields["type"])
		assert.NotContains(t, fields, "data", kind)
		assert.NotContains(t, fields, "message", kind)
		assert.EqualValues(t, 42, fields["timestamp"])
	}
}

func TestDataEnvelopeRoundTrip(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	env, err := NewDataEnvelope(KindDataUpdate, &quake.Collection{Type: "FeatureCollection"}, at)
	require.NoError(t, err)

	raw, err := EncodeEnvelope(env)
	require.NoError(t, err)

	back, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, KindDataUpdate, back.Type)
	assert.Equal(t, at.UnixMilli(), back.Timestamp)

	var coll quake.Collection
	require.NoError(t, json.Unmarshal(back.Data, &coll))
	require.NotNil(t, coll.Features)
	assert.Empty(t, coll.Features)
}

func TestErrorEnvelopeCarriesMessage(t *testing.T) {
	raw, err := EncodeEnvelope(NewErrorEnvelope("boom", time.Now()))
	require.NoError(t, err)

	back, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, KindError, back.Type)
	assert.Equal(t, "boom", back.Message)
	assert.Empty(t, back.Data)
}

func TestDecodeEnvelopeRejectsMalformed(t *testing.T) {
	for _, in := range []string{``, `not json`, `[1,2]`, `{}`, `null`, `{"type":""}`} {
		_, err := DecodeEnvelope([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestKindClassification(t *testing.T) {
	assert.True(t, KindDataSnapshot.HasPayload())
	assert.True(t, KindError.HasPayload())
	assert.False(t, KindPing.HasPayload())
	assert.True(t, KindPong.Known())
	assert.False(t, Kind("EARTHQUAKE_DATA").Known())
}
