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

package core

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/jaso"
)

// computeSubwords generates every byte n-gram of the padded word with
// length in [minn, maxn], stepping over whole UTF-8 code points, and
// feeds the bucket hash of each to push. A boundary "<" or ">" alone
// (n==1 at either end) is skipped because it carries no information
// beyond the word id itself. The active SubwordMode may contribute
// additional jamo-derived n-grams; those modes suppress duplicates
// within one word.
func (d *Dictionary) computeSubwords(word string, push func(id int32), substrings *[]string) {
	if d.bucket == 0 || d.maxn <= 0 {
		return
	}
	switch d.mode {
	case config.SubwordConsonants:
		d.subwordsConsonants(word, push, substrings)
	case config.SubwordSyllableAblation:
		d.subwordsSyllableVariants(word, push, substrings, ablateSyllable)
	case config.SubwordAllCombination:
		d.subwordsSyllableVariants(word, push, substrings, dropSyllable)
	default:
		d.subwordsClassic(word, push, substrings, nil)
	}
}

// subwordsClassic walks the raw bytes of word. seen, when non-nil,
// deduplicates n-gram strings across variant passes.
func (d *Dictionary) subwordsClassic(word string, push func(id int32), substrings *[]string, seen map[uint64]struct{}) {
	n := len(word)
	for i := 0; i < n; i++ {
		if isContinuation(word[i]) {
			continue
		}
		j := i
		for cp := 1; j < n && cp <= d.maxn; cp++ {
			j++
			for j < n && isContinuation(word[j]) {
				j++
			}
			if cp < d.minn || (cp == 1 && (i == 0 || j == n)) {
				continue
			}
			ngram := word[i:j]
			if seen != nil {
				key := xxhash.Sum64String(ngram)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			push(int32(Hash(ngram) % uint32(d.bucket)))
			if substrings != nil {
				*substrings = append(*substrings, ngram)
			}
		}
	}
}

func isContinuation(b byte) bool {
	return b&0xC0 == 0x80
}

// subwordsConsonants emits the classic n-grams and, for each, the
// vowel-stripped consonant skeleton. A string already emitted for the
// word, classic or skeleton, is not emitted again.
func (d *Dictionary) subwordsConsonants(word string, push func(id int32), substrings *[]string) {
	seen := make(map[uint64]struct{}, 16)
	n := len(word)
	for i := 0; i < n; i++ {
		if isContinuation(word[i]) {
			continue
		}
		j := i
		for cp := 1; j < n && cp <= d.maxn; cp++ {
			j++
			for j < n && isContinuation(word[j]) {
				j++
			}
			if cp < d.minn || (cp == 1 && (i == 0 || j == n)) {
				continue
			}
			ngram := word[i:j]
			key := xxhash.Sum64String(ngram)
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				push(int32(Hash(ngram) % uint32(d.bucket)))
				if substrings != nil {
					*substrings = append(*substrings, ngram)
				}
			}
			skeleton := jaso.StripVowels(ngram)
			if skeleton == ngram || skeleton == "" {
				continue
			}
			key = xxhash.Sum64String(skeleton)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			push(int32(Hash(skeleton) % uint32(d.bucket)))
			if substrings != nil {
				*substrings = append(*substrings, skeleton)
			}
		}
	}
}

// syllableVariant rewrites one syllable group of a decomposed word.
type syllableVariant func(group string) string

// ablateSyllable keeps only the consonants of the group.
func ablateSyllable(group string) string {
	return jaso.StripVowels(group)
}

// dropSyllable removes the group entirely.
func dropSyllable(string) string {
	return ""
}

// subwordsSyllableVariants emits the classic n-grams of the word and of
// every variant obtained by rewriting one syllable at a time. Variant
// n-grams identical to ones already emitted are suppressed.
func (d *Dictionary) subwordsSyllableVariants(word string, push func(id int32), substrings *[]string, rewrite syllableVariant) {
	seen := make(map[uint64]struct{}, 32)
	d.subwordsClassic(word, push, substrings, seen)

	inner := strings.TrimSuffix(strings.TrimPrefix(word, BOW), EOW)
	groups := splitSyllables(inner)
	if len(groups) < 2 {
		return
	}
	for target := range groups {
		var sb strings.Builder
		sb.WriteString(BOW)
		for gi, g := range groups {
			if gi == target {
				g = rewrite(g)
			}
			if g != "" {
				sb.WriteString(g)
				sb.WriteRune(jaso.Terminator)
			}
		}
		sb.WriteString(EOW)
		variant := sb.String()
		if variant == word {
			continue
		}
		d.subwordsClassic(variant, push, substrings, seen)
	}
}

// splitSyllables splits decomposed text on the jamo terminator,
// dropping empty groups.
func splitSyllables(jamos string) []string {
	parts := strings.Split(jamos, string(jaso.Terminator))
	groups := parts[:0]
	for _, p := range parts {
		if p != "" {
			groups = append(groups, p)
		}
	}
	return groups
}
