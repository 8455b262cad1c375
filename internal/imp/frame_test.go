package imp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameRoundTrip checks encode/parse symmetry, including the word
// padding of odd-length payloads.
func TestFrameRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		seq     uint32
		flags   uint16
		payload []byte
		// parsed payload; differs from the input when padding applies
		want []byte
	}{
		{
			name:  "empty flag carrier",
			seq:   0,
			flags: FlagLast | FlagReady,
			want:  []byte{},
		},
		{
			name:    "even payload",
			seq:     7,
			flags:   FlagLast,
			payload: []byte{1, 2, 3, 4},
			want:    []byte{1, 2, 3, 4},
		},
		{
			name:    "odd payload is padded to a word",
			seq:     8,
			flags:   0,
			payload: []byte{1, 2, 3},
			want:    []byte{1, 2, 3, 0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := encodeFrame(tc.seq, tc.flags, tc.payload)
			f, err := parseFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.seq, f.seq)
			assert.Equal(t, tc.flags, f.flags)
			assert.Equal(t, tc.want, f.payload)
		})
	}
}

// TestParseFrameRejectsBadDatagrams covers the validation failures: short
// input, wrong magic, a zero word count, and a count that disagrees with
// the datagram length.
func TestParseFrameRejectsBadDatagrams(t *testing.T) {
	good := encodeFrame(1, FlagLast, []byte{1, 2})

	short := good[:8]

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 'X'

	zeroCount := append([]byte(nil), good...)
	zeroCount[8], zeroCount[9] = 0, 0

	badLength := append([]byte(nil), good...)
	badLength[9] = 9

	for name, datagram := range map[string][]byte{
		"short datagram":  short,
		"bad magic":       badMagic,
		"zero word count": zeroCount,
		"length mismatch": badLength,
	} {
		_, err := parseFrame(datagram)
		assert.Error(t, err, name)
	}
}

// TestAssemblerFragments checks that a message split across frames is only
// delivered on the LAST flag, reassembled in order.
func TestAssemblerFragments(t *testing.T) {
	var a assembler

	msg, err := a.feed(frame{seq: 0, payload: []byte("hel")})
	require.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = a.feed(frame{seq: 1, payload: []byte("lo ")})
	require.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = a.feed(frame{seq: 2, flags: FlagLast, payload: []byte("imp")})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello imp"), msg)

	// Empty LAST frames carry flags only, never a message.
	msg, err = a.feed(frame{seq: 3, flags: FlagLast | FlagReady})
	require.NoError(t, err)
	assert.Nil(t, msg)
}

// TestAssemblerSequenceRegression verifies that a regressed frame is
// rejected without disturbing the reassembly in progress.
func TestAssemblerSequenceRegression(t *testing.T) {
	var a assembler

	_, err := a.feed(frame{seq: 5, payload: []byte("par")})
	require.NoError(t, err)

	_, err = a.feed(frame{seq: 3, flags: FlagLast, payload: []byte("junk")})
	require.Error(t, err)

	msg, err := a.feed(frame{seq: 6, flags: FlagLast, payload: []byte("tial")})
	require.NoError(t, err)
	assert.Equal(t, []byte("partial"), msg)
}

// TestAssemblerZeroRestart verifies that a peer restarting its sequence at
// zero is accepted and resynchronizes the receive side.
func TestAssemblerZeroRestart(t *testing.T) {
	var a assembler

	_, err := a.feed(frame{seq: 41, flags: FlagLast, payload: []byte("x")})
	require.NoError(t, err)

	msg, err := a.feed(frame{seq: 0, flags: FlagLast, payload: []byte("y")})
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), msg)

	// And the counter continues from the restart.
	_, err = a.feed(frame{seq: 0, flags: FlagLast, payload: []byte("z")})
	require.NoError(t, err)
}

// TestMessageRoundTrip checks leader/header marshalling for the message
// shapes this host exchanges.
func TestMessageRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
	}{
		{
			name: "NOP is leader only",
			msg:  Message{Type: TypeNOP},
		},
		{
			name: "control message on link 0",
			msg:  Message{Type: TypeRegular, Host: 11, Link: ControlLink, Size: 8, Data: []byte{0, 13}},
		},
		{
			name: "terminal data",
			msg:  Message{Type: TypeRegular, Host: 11, Link: 45, Size: 8, Data: []byte("login\r")},
		},
		{
			name: "32-bit socket word counts in 4-byte units",
			msg:  Message{Type: TypeRegular, Host: 11, Link: 7, Size: 32, Data: []byte{0, 0, 0, 100}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMessage(tc.msg.Marshal())
			require.NoError(t, err)
			assert.Equal(t, tc.msg.Type, got.Type)
			assert.Equal(t, tc.msg.Host, got.Host)
			assert.Equal(t, tc.msg.Link, got.Link)
			if tc.msg.Type == TypeRegular {
				assert.Equal(t, tc.msg.Data, got.Data)
			}
		})
	}
}

// TestMessageSizeDefaults verifies that REGULAR messages marshal with byte
// size 8 when none is set.
func TestMessageSizeDefaults(t *testing.T) {
	buf := Message{Type: TypeRegular, Host: 1, Data: []byte{1, 2, 3}}.Marshal()
	got, err := parseMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(8), got.Size)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)
}

// TestParseMessageRejectsTruncation covers short leaders, short data
// headers, and counts that overrun the payload.
func TestParseMessageRejectsTruncation(t *testing.T) {
	_, err := parseMessage([]byte{0, 11})
	assert.Error(t, err, "short leader")

	_, err = parseMessage([]byte{0, 11, 0, 0, 0, 8})
	assert.Error(t, err, "short data header")

	overrun := Message{Type: TypeRegular, Host: 11, Size: 8, Data: []byte{1, 2, 3, 4}}.Marshal()
	_, err = parseMessage(overrun[:len(overrun)-2])
	assert.Error(t, err, "count overruns payload")
}
