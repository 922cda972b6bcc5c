package core

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/jaso"
)

func writeCorpus(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func sgCorpus() []string {
	subjects := []string{"king", "queen", "man", "woman", "cat", "dog", "bird", "fish"}
	verbs := []string{"rules", "eats", "sees", "likes"}
	objects := []string{"castle", "food", "river", "garden", "people"}
	var lines []string
	for i, s := range subjects {
		for j, v := range verbs {
			lines = append(lines, fmt.Sprintf("the %s %s the %s", s, v, objects[(i+j)%len(objects)]))
		}
	}
	return lines
}

func sgArgs() config.Args {
	args := config.DefaultArgs()
	args.Dim = 10
	args.Minn = 2
	args.Maxn = 5
	args.Bucket = 2000
	args.Epoch = 2
	args.Thread = 1
	args.Neg = 3
	args.MinCount = 1
	return args
}

func trainSG(t *testing.T) *FastText {
	t.Helper()
	args, err := sgArgs().Build()
	require.NoError(t, err)
	ft, err := Train(context.Background(), args, writeCorpus(t, sgCorpus()), "")
	require.NoError(t, err)
	return ft
}

func TestSkipgramTrainProducesFiniteVectors(t *testing.T) {
	ft := trainSG(t)
	vec := ft.WordVector("king")
	require.Len(t, vec, 10)
	norm := vec.Norm()
	assert.Greater(t, norm, float32(0))
	assert.False(t, math.IsNaN(float64(norm)))
	assert.False(t, math.IsInf(float64(norm), 0))
}

func TestSkipgramDeterminism(t *testing.T) {
	corpus := writeCorpus(t, sgCorpus())
	args, err := sgArgs().Build()
	require.NoError(t, err)

	first, err := Train(context.Background(), args, corpus, "")
	require.NoError(t, err)
	second, err := Train(context.Background(), args, corpus, "")
	require.NoError(t, err)

	for i := int32(0); i < first.Dictionary().NWords(); i++ {
		word := first.Dictionary().GetWord(i)
		assert.Equal(t, first.WordVector(word), second.WordVector(word), "vector of %q", word)
	}
}

func TestSaveLoadRoundTripBitIdentical(t *testing.T) {
	ft := trainSG(t)
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, ft.SaveModel(path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, FileFormatVersion, loaded.Version())
	assert.Equal(t, ft.Dictionary().NWords(), loaded.Dictionary().NWords())
	assert.Equal(t, ft.Dictionary().NTokens(), loaded.Dictionary().NTokens())

	for i := int32(0); i < ft.Dictionary().NWords(); i++ {
		word := ft.Dictionary().GetWord(i)
		assert.Equal(t, ft.WordVector(word), loaded.WordVector(word), "vector of %q", word)
	}
	// the sidecar is written next to the model
	_, err = os.Stat(path + ".meta")
	assert.NoError(t, err)
}

func TestLoadRejectsWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.bin")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a model"), 0o644))
	_, err := LoadModel(path)
	assert.ErrorIs(t, err, ErrWrongFormat)
}

func TestNN(t *testing.T) {
	ft := trainSG(t)
	neighbors, err := ft.NN(5, "king")
	require.NoError(t, err)
	require.Len(t, neighbors, 5)
	seen := map[string]bool{}
	for _, n := range neighbors {
		assert.NotEqual(t, "king", n.Word)
		assert.False(t, seen[n.Word], "duplicate neighbor %s", n.Word)
		seen[n.Word] = true
		assert.LessOrEqual(t, n.Score, float32(1.01))
		assert.GreaterOrEqual(t, n.Score, float32(-1.01))
	}
	// repeated query hits the cache and stays identical
	again, err := ft.NN(5, "king")
	require.NoError(t, err)
	assert.Equal(t, neighbors, again)
}

func TestNNValidation(t *testing.T) {
	ft := trainSG(t)
	_, err := ft.NN(0, "king")
	assert.Error(t, err)
	_, err = ft.NN(3, "")
	assert.Error(t, err)
}

func TestAnalogies(t *testing.T) {
	ft := trainSG(t)
	res, err := ft.Analogies(4, "king", "man", "woman")
	require.NoError(t, err)
	require.Len(t, res, 4)
	for _, n := range res {
		assert.NotContains(t, []string{"king", "man", "woman"}, n.Word)
	}
}

func TestSentenceVectorUnsupervised(t *testing.T) {
	ft := trainSG(t)
	vec, err := ft.SentenceVector("the king rules the castle")
	require.NoError(t, err)
	assert.Greater(t, vec.Norm(), float32(0))
	empty, err := ft.SentenceVector("")
	require.NoError(t, err)
	assert.Equal(t, float32(0), empty.Norm())
}

func TestSaveVectorsFormat(t *testing.T) {
	ft := trainSG(t)
	path := filepath.Join(t.TempDir(), "out.vec")
	require.NoError(t, ft.SaveVectors(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, int(ft.Dictionary().NWords())+1)
	assert.Equal(t, fmt.Sprintf("%d %d", ft.Dictionary().NWords(), 10), lines[0])
	fields := strings.Fields(lines[1])
	assert.Len(t, fields, 11)
	assert.Equal(t, ft.Dictionary().GetWord(0), fields[0])
}

func TestWordSimilarity(t *testing.T) {
	ft := trainSG(t)
	assert.InDelta(t, 1.0, ft.WordSimilarity("king", "king"), 1e-5)
	sim := ft.WordSimilarity("king", "queen")
	assert.LessOrEqual(t, sim, 1.0)
	assert.GreaterOrEqual(t, sim, -1.0)
}

func TestHwangSentenceSimilarity(t *testing.T) {
	ft := trainSG(t)
	self := ft.HwangSentenceSimilarity("king rules castle", "king rules castle")
	assert.InDelta(t, 1.0, self, 1e-4)
	cross := ft.HwangSentenceSimilarity("king rules", "dog eats")
	assert.LessOrEqual(t, cross, 1.001)
}

// supervised fixtures

func supCorpus() []string {
	pos := []string{"perfect film", "great movie loved it", "wonderful acting", "amazing story great fun",
		"excellent direction", "loved the perfect ending", "great wonderful film"}
	neg := []string{"terrible film", "awful movie hated it", "boring acting", "dreadful story bad fun",
		"poor direction", "hated the awful ending", "bad boring film"}
	var lines []string
	for i := 0; i < 4; i++ {
		for _, p := range pos {
			lines = append(lines, "__label__pos "+p)
		}
		for _, n := range neg {
			lines = append(lines, "__label__neg "+n)
		}
	}
	return lines
}

func trainSup(t *testing.T, mutate func(*config.Args)) *FastText {
	t.Helper()
	args := config.DefaultArgs()
	args.Model = config.ModelSup
	args.Dim = 12
	args.Epoch = 12
	args.Thread = 1
	if mutate != nil {
		mutate(&args)
	}
	built, err := args.Build()
	require.NoError(t, err)
	ft, err := Train(context.Background(), built, writeCorpus(t, supCorpus()), "")
	require.NoError(t, err)
	return ft
}

func TestSupervisedPredict(t *testing.T) {
	ft := trainSup(t, nil)
	scores, err := ft.PredictLine("perfect film", 2)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "__label__pos", scores[0].Label)
	assert.GreaterOrEqual(t, scores[0].Prob, scores[1].Prob)
	sum := float64(scores[0].Prob + scores[1].Prob)
	assert.InDelta(t, 1.0, sum, 1e-3)
}

func TestSupervisedTest(t *testing.T) {
	ft := trainSup(t, nil)
	eval := "__label__pos perfect film\n__label__neg awful movie\n"
	info, err := ft.Test(strings.NewReader(eval), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Examples)
	assert.Equal(t, 2, info.Labels)
	assert.GreaterOrEqual(t, info.PrecisionAtK(), 0.5)
}

func TestPredictStream(t *testing.T) {
	ft := trainSup(t, nil)
	var got [][]LabelScore
	err := ft.Predict(strings.NewReader("perfect film\nawful movie\n"), 1, func(scores []LabelScore) error {
		got = append(got, scores)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "__label__pos", got[0][0].Label)
	assert.Equal(t, "__label__neg", got[1][0].Label)
}

func TestSupervisedSentenceVectorUnknownTokens(t *testing.T) {
	ft := trainSup(t, nil)
	// unknown tokens contribute nothing; the line reduces to its EOS
	vec, err := ft.SentenceVector("zzzunknownzzz")
	require.NoError(t, err)
	eosOnly, err := ft.SentenceVector("")
	require.NoError(t, err)
	assert.Equal(t, eosOnly, vec)
	assert.False(t, math.IsNaN(float64(vec.Norm())))
}

func TestQuantizeRoundTrip(t *testing.T) {
	// word bigrams keep the bucket, so the input matrix clears the
	// 256-row floor product quantization needs
	ft := trainSup(t, func(a *config.Args) {
		a.WordNgrams = 2
		a.Bucket = 2000
	})
	qft, err := ft.Quantize(context.Background(), QuantizeOptions{DSub: 2, QNorm: true})
	require.NoError(t, err)
	assert.True(t, qft.Model().IsQuant())

	// the source model is untouched
	assert.False(t, ft.Model().IsQuant())

	path := filepath.Join(t.TempDir(), "model.ftz")
	require.NoError(t, qft.SaveModel(path))
	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.True(t, loaded.Model().IsQuant())

	lines := []string{"perfect film", "awful movie", "great wonderful film", "bad boring film"}
	agree := 0
	for _, line := range lines {
		want, err := ft.PredictLine(line, 1)
		require.NoError(t, err)
		got, err := loaded.PredictLine(line, 1)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		sum := float64(got[0].Prob)
		assert.LessOrEqual(t, sum, 1.01)
		if want[0].Label == got[0].Label {
			agree++
		}
	}
	assert.GreaterOrEqual(t, agree, len(lines)/2)
}

func TestQuantizeWithCutoff(t *testing.T) {
	ft := trainSup(t, func(a *config.Args) {
		a.WordNgrams = 2
		a.Bucket = 2000
	})
	rows := ft.Model().Input().Rows()
	qft, err := ft.Quantize(context.Background(), QuantizeOptions{Cutoff: 300, DSub: 2})
	require.NoError(t, err)
	assert.True(t, qft.Dictionary().IsPruned())
	assert.Less(t, qft.Model().QInput().Rows(), rows)

	// predict over words that survived the pruning
	var kept []string
	for i := int32(0); i < qft.Dictionary().NWords() && len(kept) < 2; i++ {
		if w := qft.Dictionary().GetWord(i); w != EOS {
			kept = append(kept, w)
		}
	}
	require.NotEmpty(t, kept)
	scores, err := qft.PredictLine(strings.Join(kept, " "), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, scores)
}

func TestQuantizeRefusals(t *testing.T) {
	sg := trainSG(t)
	_, err := sg.Quantize(context.Background(), QuantizeOptions{DSub: 2})
	assert.ErrorIs(t, err, ErrNotSupervised)

	sup := trainSup(t, func(a *config.Args) {
		a.WordNgrams = 2
		a.Bucket = 2000
	})
	qft, err := sup.Quantize(context.Background(), QuantizeOptions{DSub: 2})
	require.NoError(t, err)
	_, err = qft.Quantize(context.Background(), QuantizeOptions{DSub: 2})
	assert.ErrorIs(t, err, ErrAlreadyQuantized)
}

func TestTrainCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	args, err := sgArgs().Build()
	require.NoError(t, err)
	_, err = Train(ctx, args, writeCorpus(t, sgCorpus()), "")
	assert.Error(t, err)
}

func TestJamoTrainedSimilarity(t *testing.T) {
	raw := []string{
		"이명박은 대통령이다 .",
		"문재인은 대통령이다 .",
		"고양이는 동물이다 .",
		"강아지는 동물이다 .",
		"서울은 도시이다 .",
		"부산은 도시이다 .",
	}
	var lines []string
	for i := 0; i < 10; i++ {
		for _, l := range raw {
			lines = append(lines, jaso.HangulToJaso(l))
		}
	}
	args := sgArgs()
	args.Epoch = 3
	built, err := args.Build()
	require.NoError(t, err)
	ft, err := Train(context.Background(), built, writeCorpus(t, lines), "")
	require.NoError(t, err)

	a := jaso.HangulToJaso("이명박은 대통령이다 .")
	sim := ft.HwangSentenceSimilarity(a, a)
	assert.InDelta(t, 1.0, sim, 1e-4)

	b := jaso.HangulToJaso("문재인은 대통령이다 .")
	cross := ft.HwangSentenceSimilarity(a, b)
	assert.Greater(t, cross, 0.3)
}

func TestPretrainedVectors(t *testing.T) {
	ft := trainSG(t)
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "seed.vec")
	require.NoError(t, ft.SaveVectors(vecPath))

	args, err := sgArgs().Build()
	require.NoError(t, err)
	seeded, err := Train(context.Background(), args, writeCorpus(t, sgCorpus()), vecPath)
	require.NoError(t, err)
	assert.Greater(t, seeded.WordVector("king").Norm(), float32(0))

	// dimension mismatch is fatal
	bad := sgArgs()
	bad.Dim = 7
	badArgs, err := bad.Build()
	require.NoError(t, err)
	_, err = Train(context.Background(), badArgs, writeCorpus(t, sgCorpus()), vecPath)
	assert.Error(t, err)
}

func TestNgramVectors(t *testing.T) {
	ft := trainSG(t)
	ngrams, err := ft.NgramVectors("king")
	require.NoError(t, err)
	require.NotEmpty(t, ngrams)
	assert.Equal(t, "king", ngrams[0].Ngram)
	for _, ng := range ngrams {
		assert.Len(t, ng.Vector, 10)
	}
}

func TestSaveOutputRefusedWhenQuantized(t *testing.T) {
	ft := trainSup(t, func(a *config.Args) {
		a.WordNgrams = 2
		a.Bucket = 2000
	})
	qft, err := ft.Quantize(context.Background(), QuantizeOptions{DSub: 2})
	require.NoError(t, err)
	err = qft.SaveOutput(filepath.Join(t.TempDir(), "out.vec"))
	assert.Error(t, err)
}
