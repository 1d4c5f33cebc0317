package bt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := map[string]Value{
		"a": int64(42),
		"b": []byte("hello"),
		"c": []Value{int64(1), int64(2), []byte("x")},
	}
	enc, err := Encode(v)
	require.NoError(t, err)

	dec, err := DecodeFull(enc)
	require.NoError(t, err)
	require.Equal(t, v, dec)
}

func TestEncodeSortsDictKeys(t *testing.T) {
	v := map[string]Value{"z": int64(1), "a": int64(2), "m": int64(3)}
	enc, err := Encode(v)
	require.NoError(t, err)
	require.Equal(t, "d1:ai2e1:mi3e1:zi1ee", string(enc))
}

func TestJSONRoundTripFromJSONSide(t *testing.T) {
	original := map[string]interface{}{
		"@": "eA==", // base64 of one byte 0x78
		"n": float64(5),
		"list": []interface{}{
			float64(1), "aGVsbG8=",
		},
	}
	btVal, err := FromJSON(original)
	require.NoError(t, err)

	back, err := ToJSON(btVal)
	require.NoError(t, err)

	origJSON, err := json.Marshal(original)
	require.NoError(t, err)
	backJSON, err := json.Marshal(back)
	require.NoError(t, err)
	require.JSONEq(t, string(origJSON), string(backJSON))
}

func TestJSONRoundTripFromBTSide(t *testing.T) {
	original := map[string]Value{
		"h": []byte{0x01, 0x02, 0xff},
		"t": int64(1700000000000),
		"l": []Value{[]byte("a"), []byte("b")},
	}
	jsonVal, err := ToJSON(original)
	require.NoError(t, err)

	back, err := FromJSON(jsonVal)
	require.NoError(t, err)
	require.Equal(t, Value(original), back)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := DecodeFull([]byte("not-bencode"))
	require.Error(t, err)

	_, err = DecodeFull([]byte("i notanumber e"))
	require.Error(t, err)

	_, err = DecodeFull([]byte("5:ab"))
	require.Error(t, err)
}
