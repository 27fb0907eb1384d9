package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		SyncStep1([]byte{1, 2, 3}),
		SyncStep2([]byte("diff")),
		Update([]byte("update-bytes")),
		AwarenessUpdate([]byte(`{"cursor":5}`)),
		QueryAwareness(),
		Ping(42),
		Pong(42),
		Auth([]byte("bearer-token")),
		Close(4001),
	}

	for _, want := range cases {
		t.Run(want.Kind.String(), func(t *testing.T) {
			encoded := Encode(want)
			got, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.Payload, got.Payload)
			assert.Equal(t, want.Counter, got.Counter)
			assert.Equal(t, want.Reason, got.Reason)
		})
	}
}

func TestDecodeEmptyFrame(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}

func TestDecodeTruncatedLengthPrefixedFrame(t *testing.T) {
	_, err := Decode([]byte{byte(KindUpdate), 0, 0})
	require.Error(t, err)
}

func TestDecodeLengthMismatch(t *testing.T) {
	frame := Encode(Update([]byte("hello")))
	frame = append(frame, 0xFF) // trailing garbage byte
	_, err := Decode(frame)
	require.Error(t, err)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte{0xFE})
	require.Error(t, err)
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "Kind(200)", Kind(200).String())
}
