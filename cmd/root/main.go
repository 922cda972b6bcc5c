// Licensed to sjy-dv under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. sjy-dv licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/core"
	"github.com/sjy-dv/jamovec/jaso"
	"github.com/sjy-dv/jamovec/pkg/ftio"
)

var flagVerbose bool

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	root := &cobra.Command{
		Use:           "jamovec",
		Short:         "fastText-compatible word embeddings with Korean jamo subwords",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if flagVerbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		trainCommand("skipgram", config.ModelSG),
		trainCommand("cbow", config.ModelCBOW),
		trainCommand("supervised", config.ModelSup),
		quantizeCommand(),
		testCommand(),
		predictCommand("predict", false),
		predictCommand("predict-prob", true),
		printWordVectorsCommand(),
		printSentenceVectorsCommand(),
		printNgramsCommand(),
		nnCommand(),
		analogiesCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

type trainFlags struct {
	input       string
	output      string
	pretrained  string
	saveVectors bool
	lr          float64
	lrUpdate    int
	dim         int
	ws          int
	epoch       int
	minCount    int
	minCountLbl int
	neg         int
	wordNgrams  int
	loss        string
	bucket      int
	minn        int
	maxn        int
	thread      int
	t           float64
	label       string
	jamo        bool
	subwordMode string
}

func (tf *trainFlags) register(cmd *cobra.Command, model config.ModelName) {
	defaults := config.DefaultArgs()
	fl := cmd.Flags()
	fl.StringVar(&tf.input, "input", "", "training file path ('-' for stdin)")
	fl.StringVar(&tf.output, "output", "", "output file path (without extension)")
	fl.StringVar(&tf.pretrained, "pretrainedVectors", "", "pretrained .vec file to seed the input matrix")
	fl.BoolVar(&tf.saveVectors, "saveVectors", true, "write <output>.vec next to the model")
	lr := defaults.LR
	if model == config.ModelSup {
		lr = 0.1
	}
	fl.Float64Var(&tf.lr, "lr", lr, "learning rate")
	fl.IntVar(&tf.lrUpdate, "lrUpdateRate", defaults.LRUpdateRate, "rate of updates for the learning rate")
	fl.IntVar(&tf.dim, "dim", defaults.Dim, "size of word vectors")
	fl.IntVar(&tf.ws, "ws", defaults.WS, "size of the context window")
	fl.IntVar(&tf.epoch, "epoch", defaults.Epoch, "number of epochs")
	fl.IntVar(&tf.minCount, "minCount", defaults.MinCount, "minimal number of word occurrences")
	fl.IntVar(&tf.minCountLbl, "minCountLabel", defaults.MinCountLabel, "minimal number of label occurrences")
	fl.IntVar(&tf.neg, "neg", defaults.Neg, "number of negatives sampled")
	fl.IntVar(&tf.wordNgrams, "wordNgrams", defaults.WordNgrams, "max length of word ngram")
	fl.StringVar(&tf.loss, "loss", "", "loss function {ns, hs, softmax}")
	fl.IntVar(&tf.bucket, "bucket", defaults.Bucket, "number of subword hash buckets")
	fl.IntVar(&tf.minn, "minn", defaults.Minn, "min length of char ngram")
	fl.IntVar(&tf.maxn, "maxn", defaults.Maxn, "max length of char ngram")
	fl.IntVar(&tf.thread, "thread", defaults.Thread, "number of threads")
	fl.Float64Var(&tf.t, "t", defaults.T, "sampling threshold")
	fl.StringVar(&tf.label, "label", defaults.Label, "labels prefix")
	fl.BoolVar(&tf.jamo, "jamo", false, "decompose Hangul syllables into jamo before training")
	fl.StringVar(&tf.subwordMode, "subwordMode", "classic",
		"Korean subword variant {classic, consonants, syllable-ablation, all-combination}")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
}

func (tf *trainFlags) args(model config.ModelName) (config.Args, error) {
	a := config.DefaultArgs()
	a.Model = model
	a.LR = tf.lr
	a.LRUpdateRate = tf.lrUpdate
	a.Dim = tf.dim
	a.WS = tf.ws
	a.Epoch = tf.epoch
	a.MinCount = tf.minCount
	a.MinCountLabel = tf.minCountLbl
	a.Neg = tf.neg
	a.WordNgrams = tf.wordNgrams
	a.Bucket = tf.bucket
	a.Minn = tf.minn
	a.Maxn = tf.maxn
	a.Thread = tf.thread
	a.T = tf.t
	a.Label = tf.label
	if model == config.ModelSup {
		a.Loss = config.LossSoftmax
	}
	if tf.loss != "" {
		loss, err := config.LossFromName(tf.loss)
		if err != nil {
			return a, err
		}
		a.Loss = loss
	}
	mode, err := config.SubwordModeFromName(tf.subwordMode)
	if err != nil {
		return a, err
	}
	a.SubwordMode = mode
	return a.Build()
}

// materializeInput resolves '-' to a temp file (the trainer needs a
// seekable input) and optionally rewrites the corpus with Hangul
// syllables decomposed into jamo.
func materializeInput(path string, decompose bool) (string, func(), error) {
	cleanup := func() {}
	if path == "-" || decompose {
		var src io.Reader
		if path == "-" {
			src = os.Stdin
		} else {
			f, err := os.Open(path)
			if err != nil {
				return "", cleanup, err
			}
			defer f.Close()
			src = f
		}
		tmp, err := os.CreateTemp("", "jamovec-train-*.txt")
		if err != nil {
			return "", cleanup, err
		}
		w := bufio.NewWriterSize(tmp, 1<<16)
		sc := bufio.NewScanner(src)
		sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if decompose {
				line = jaso.HangulToJaso(line)
			}
			w.WriteString(line)
			w.WriteByte('\n')
		}
		if err := sc.Err(); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", cleanup, err
		}
		if err := w.Flush(); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", cleanup, err
		}
		tmp.Close()
		name := tmp.Name()
		return name, func() { os.Remove(name) }, nil
	}
	return path, cleanup, nil
}

func trainCommand(name string, model config.ModelName) *cobra.Command {
	tf := &trainFlags{}
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("train a %s model", model),
		RunE: func(cmd *cobra.Command, _ []string) error {
			args, err := tf.args(model)
			if err != nil {
				return err
			}
			input, cleanup, err := materializeInput(tf.input, tf.jamo)
			if err != nil {
				return err
			}
			defer cleanup()
			ft, err := core.Train(cmd.Context(), args, input, tf.pretrained)
			if err != nil {
				return err
			}
			if err := ft.SaveModel(tf.output + ".bin"); err != nil {
				return err
			}
			if tf.saveVectors {
				return ft.SaveVectors(tf.output + ".vec")
			}
			return nil
		},
	}
	tf.register(cmd, model)
	return cmd
}

func quantizeCommand() *cobra.Command {
	opts := core.QuantizeOptions{}
	var input, output string
	cmd := &cobra.Command{
		Use:   "quantize",
		Short: "product-quantize a supervised model into a .ftz",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ft, err := core.LoadModel(input)
			if err != nil {
				return err
			}
			qft, err := ft.Quantize(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return qft.SaveModel(output + ".ftz")
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&input, "input", "", "model file (.bin)")
	fl.StringVar(&output, "output", "", "output file path (without extension)")
	fl.IntVar(&opts.Cutoff, "cutoff", 0, "number of input rows to retain (0 keeps all)")
	fl.IntVar(&opts.DSub, "dsub", 2, "size of each sub-vector")
	fl.BoolVar(&opts.QNorm, "qnorm", false, "quantize the row norms separately")
	fl.BoolVar(&opts.QOut, "qout", false, "quantize the output matrix as well")
	fl.StringVar(&opts.Retrain, "retrain", "", "corpus to retrain on after pruning")
	fl.IntVar(&opts.Epoch, "epoch", 0, "retrain epochs")
	fl.Float64Var(&opts.LR, "lr", 0, "retrain learning rate")
	fl.IntVar(&opts.Thread, "thread", 0, "retrain threads")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// openMaybeStdin treats '-' as standard input.
func openMaybeStdin(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func parseK(args []string, pos, def int) (int, error) {
	if len(args) <= pos {
		return def, nil
	}
	k, err := strconv.Atoi(args[pos])
	if err != nil {
		return 0, fmt.Errorf("bad k value %q: %w", args[pos], err)
	}
	return k, nil
}

func testCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <model> <test-data> [k]",
		Short: "evaluate a supervised model",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			ft, err := core.LoadModel(args[0])
			if err != nil {
				return err
			}
			k, err := parseK(args, 2, 1)
			if err != nil {
				return err
			}
			in, err := openMaybeStdin(args[1])
			if err != nil {
				return err
			}
			defer in.Close()
			info, err := ft.Test(in, k)
			if err != nil {
				return err
			}
			fmt.Println(info)
			return nil
		},
	}
}

func predictCommand(name string, withProb bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <model> <test-data> [k]",
		Short: "predict the most likely labels",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			ft, err := core.LoadModel(args[0])
			if err != nil {
				return err
			}
			k, err := parseK(args, 2, 1)
			if err != nil {
				return err
			}
			in, err := openMaybeStdin(args[1])
			if err != nil {
				return err
			}
			defer in.Close()
			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			return ft.Predict(in, k, func(scores []core.LabelScore) error {
				parts := make([]string, 0, len(scores)*2)
				for _, s := range scores {
					parts = append(parts, s.Label)
					if withProb {
						parts = append(parts, ftio.FormatFloat(s.Prob))
					}
				}
				_, err := fmt.Fprintln(out, strings.Join(parts, " "))
				return err
			})
		},
	}
}

func printWordVectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print-word-vectors <model>",
		Short: "print vectors for words read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ft, err := core.LoadModel(args[0])
			if err != nil {
				return err
			}
			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			sc := bufio.NewScanner(os.Stdin)
			sc.Split(bufio.ScanWords)
			for sc.Scan() {
				word := sc.Text()
				out.WriteString(word)
				for _, v := range ft.WordVector(word) {
					out.WriteByte(' ')
					out.WriteString(ftio.FormatFloat(v))
				}
				out.WriteByte('\n')
			}
			return sc.Err()
		},
	}
}

func printSentenceVectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print-sentence-vectors <model>",
		Short: "print vectors for sentences read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ft, err := core.LoadModel(args[0])
			if err != nil {
				return err
			}
			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			sc := bufio.NewScanner(os.Stdin)
			sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
			for sc.Scan() {
				vec, err := ft.SentenceVector(sc.Text())
				if err != nil {
					return err
				}
				for i, v := range vec {
					if i > 0 {
						out.WriteByte(' ')
					}
					out.WriteString(ftio.FormatFloat(v))
				}
				out.WriteByte('\n')
			}
			return sc.Err()
		},
	}
}

func printNgramsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print-ngrams <model> <word>",
		Short: "print the subword vectors of a word",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ft, err := core.LoadModel(args[0])
			if err != nil {
				return err
			}
			ngrams, err := ft.NgramVectors(args[1])
			if err != nil {
				return err
			}
			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			for _, ng := range ngrams {
				out.WriteString(ng.Ngram)
				for _, v := range ng.Vector {
					out.WriteByte(' ')
					out.WriteString(ftio.FormatFloat(v))
				}
				out.WriteByte('\n')
			}
			return nil
		},
	}
}

func nnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nn <model> <word> [k]",
		Short: "print the nearest neighbors of a word",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			ft, err := core.LoadModel(args[0])
			if err != nil {
				return err
			}
			k, err := parseK(args, 2, 10)
			if err != nil {
				return err
			}
			neighbors, err := ft.NN(k, args[1])
			if err != nil {
				return err
			}
			for _, n := range neighbors {
				fmt.Printf("%s %s\n", n.Word, ftio.FormatFloat(n.Score))
			}
			return nil
		},
	}
}

func analogiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analogies <model> <a> <b> <c> [k]",
		Short: "print words closest to a - b + c",
		Args:  cobra.RangeArgs(4, 5),
		RunE: func(_ *cobra.Command, args []string) error {
			ft, err := core.LoadModel(args[0])
			if err != nil {
				return err
			}
			k, err := parseK(args, 4, 10)
			if err != nil {
				return err
			}
			neighbors, err := ft.Analogies(k, args[1], args[2], args[3])
			if err != nil {
				return err
			}
			for _, n := range neighbors {
				fmt.Printf("%s %s\n", n.Word, ftio.FormatFloat(n.Score))
			}
			return nil
		},
	}
}
