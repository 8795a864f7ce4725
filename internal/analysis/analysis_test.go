package analysis

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{name: "json string", payload: []byte(`"Test Message"`), want: KindJSONString},
		{name: "json number", payload: []byte(`21.5`), want: KindJSONNumber},
		{name: "negative number", payload: []byte(`-3`), want: KindJSONNumber},
		{name: "json object", payload: []byte(`{"value": 1}`), want: KindJSONObject},
		{name: "json array", payload: []byte(` [1, 2] `), want: KindJSONArray},
		{name: "json bool", payload: []byte(`true`), want: KindJSONBool},
		{name: "json null", payload: []byte(`null`), want: KindJSONNull},
		{name: "plain text", payload: []byte(`Hello World!`), want: KindText},
		{name: "empty", payload: []byte{}, want: KindText},
		{name: "binary", payload: []byte{0xff, 0xfe, 0x00}, want: KindBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.payload))
		})
	}
}

func TestAnalyzerHandle(t *testing.T) {
	var out bytes.Buffer
	a := NewAnalyzer(&out)

	err := a.Handle(context.Background(), "test/topic", []byte(`"Test Message"`))
	require.NoError(t, err)

	assert.Equal(t, "Analyze '\"Test Message\"'...\nType: json string\nSucceed\n", out.String())
}

func TestHandlerFunc(t *testing.T) {
	var gotTopic string
	var h Handler = HandlerFunc(func(_ context.Context, topic string, _ []byte) error {
		gotTopic = topic
		return nil
	})

	require.NoError(t, h.Handle(context.Background(), "a/b", nil))
	assert.Equal(t, "a/b", gotTopic)
}
