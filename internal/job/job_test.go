package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Number
		wantErr bool
	}{
		{in: "13010-00000001", want: "13010-00000001"},
		{in: " 13010-1 ", want: "13010-1"},
		{in: "13010-", want: "13010-"},
		{in: "1301-00000001", wantErr: true},
		{in: "13010-000000001", wantErr: true},
		{in: "13010_00000001", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseNumber(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestNumberParts(t *testing.T) {
	t.Parallel()

	n := Number("13010-00000001")
	assert.Equal(t, "13010", n.Prefix())
	assert.Equal(t, "00000001", n.Serial())
}

func TestQueueMessageRoundTrip(t *testing.T) {
	t.Parallel()

	body, err := QueueMessage{JobNumber: "13010-00000001"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobNumber":"13010-00000001"}`, string(body))

	msg, err := DecodeQueueMessage(body)
	require.NoError(t, err)
	assert.Equal(t, Number("13010-00000001"), msg.JobNumber)
}

func TestDecodeQueueMessageRejectsBadBodies(t *testing.T) {
	t.Parallel()

	_, err := DecodeQueueMessage([]byte(`not json`))
	assert.Error(t, err)
	_, err = DecodeQueueMessage([]byte(`{"jobNumber":"abc"}`))
	assert.Error(t, err)
	_, err = DecodeQueueMessage([]byte(`{}`))
	assert.Error(t, err)
}
