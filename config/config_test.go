package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisedOverrides(t *testing.T) {
	a := DefaultArgs()
	a.Model = ModelSup
	a.Minn = 3
	a.Maxn = 6
	a.LR = 0.5
	a.MinCount = 5
	built, err := a.Build()
	require.NoError(t, err)
	assert.Equal(t, LossSoftmax, built.Loss)
	assert.Equal(t, 0, built.Minn)
	assert.Equal(t, 0, built.Maxn)
	assert.Equal(t, 1, built.MinCount)
	assert.Equal(t, 0.1, built.LR)
	// wordNgrams<=1 and maxn==0 leaves no use for the bucket space
	assert.Equal(t, 0, built.Bucket)
}

func TestSupervisedKeepsBucketWithWordNgrams(t *testing.T) {
	a := DefaultArgs()
	a.Model = ModelSup
	a.WordNgrams = 2
	built, err := a.Build()
	require.NoError(t, err)
	assert.Equal(t, 2_000_000, built.Bucket)
}

func TestValidation(t *testing.T) {
	a := DefaultArgs()
	a.Dim = 0
	_, err := a.Build()
	assert.Error(t, err)

	a = DefaultArgs()
	a.LR = -1
	_, err = a.Build()
	assert.Error(t, err)

	a = DefaultArgs()
	a.Minn = -1
	_, err = a.Build()
	assert.Error(t, err)
}

func TestEnumRoundTrip(t *testing.T) {
	for _, m := range []ModelName{ModelCBOW, ModelSG, ModelSup} {
		got, err := ModelFromValue(int32(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ModelFromValue(9)
	assert.Error(t, err)

	for _, l := range []LossName{LossHS, LossNS, LossSoftmax} {
		got, err := LossFromValue(int32(l))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err = LossFromValue(0)
	assert.Error(t, err)

	m, err := ModelFromName("skipgram")
	require.NoError(t, err)
	assert.Equal(t, ModelSG, m)
	l, err := LossFromName("softmax")
	require.NoError(t, err)
	assert.Equal(t, LossSoftmax, l)
}

func TestSubwordModeFromName(t *testing.T) {
	mode, err := SubwordModeFromName("")
	require.NoError(t, err)
	assert.Equal(t, SubwordClassic, mode)
	_, err = SubwordModeFromName("bogus")
	assert.Error(t, err)
}
