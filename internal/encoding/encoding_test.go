package encoding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{name: "simple vector", vector: []float32{1.0, 2.0, 3.0}},
		{name: "single element", vector: []float32{42.0}},
		{name: "negative values", vector: []float32{-1.5, 0.0, 2.25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeVector(tt.vector)
			require.NoError(t, err)

			decoded, err := DecodeVector(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.vector, decoded)
		})
	}
}

func TestEncodeVectorNil(t *testing.T) {
	_, err := EncodeVector(nil)
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestDecodeVectorCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte{1, 2}},
		{name: "negative length", data: []byte{0xff, 0xff, 0xff, 0xff}},
		{name: "truncated body", data: []byte{2, 0, 0, 0, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeVector(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := map[string]string{"lang": "fr", "source": "wiki"}

	encoded, err := EncodeMetadata(meta)
	require.NoError(t, err)

	decoded, err := DecodeMetadata(encoded)
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)
}

func TestMetadataNil(t *testing.T) {
	encoded, err := EncodeMetadata(nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)

	decoded, err := DecodeMetadata("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestValidateVector(t *testing.T) {
	assert.NoError(t, ValidateVector([]float32{1, 0}))
	assert.ErrorIs(t, ValidateVector(nil), ErrInvalidVector)
	assert.ErrorIs(t, ValidateVector([]float32{}), ErrInvalidVector)
	assert.ErrorIs(t, ValidateVector([]float32{float32(math.NaN())}), ErrInvalidVector)
	assert.ErrorIs(t, ValidateVector([]float32{float32(math.Inf(1))}), ErrInvalidVector)
}
