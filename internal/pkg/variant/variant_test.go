package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint32(42)
	w.WriteUint64(1234567890123)
	w.WriteString("hello")
	w.WriteBytes([]byte{0x01, 0x02, 0x03})
	w.WriteStringPairs([]StringBytesPair{
		{Key: "user.foo", Value: []byte("bar")},
	})
	w.WriteStringStringMap([]StringStringPair{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
	})

	r := NewReader(w.Bytes())

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567890123), u64)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	b, err := r.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, b)

	pairs, err := r.ReadStringPairs()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "user.foo", pairs[0].Key)
	assert.Equal(t, []byte("bar"), pairs[0].Value)

	m, err := r.ReadStringStringMap()
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "a", m[0].Key)
	assert.Equal(t, "2", m[1].Value)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderTruncated(t *testing.T) {
	w := NewWriter()
	w.WriteString("abcdef")
	data := w.Bytes()
	r := NewReader(data[:len(data)-2])

	_, err := r.ReadString()
	assert.Error(t, err)
}
