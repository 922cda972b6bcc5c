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

// Package jaso decomposes Hangul syllable blocks (U+AC00..U+D7A3) into
// compatibility jamo. Every decomposed syllable is terminated with
// U+1D25 'ᴥ' so subword n-grams can cross syllable boundaries without
// losing the boundary itself.
package jaso

import "strings"

// Terminator is appended after each decomposed syllable.
const Terminator = 'ᴥ' // U+1D25

const (
	hangulBase = 0xAC00
	hangulLast = 0xD7A3
	jungCount  = 21
	jongCount  = 28
)

// 초성 (initial consonants)
var choSung = [19]rune{
	'ㄱ', 'ㄲ', 'ㄴ', 'ㄷ', 'ㄸ', 'ㄹ', 'ㅁ', 'ㅂ', 'ㅃ', 'ㅅ',
	'ㅆ', 'ㅇ', 'ㅈ', 'ㅉ', 'ㅊ', 'ㅋ', 'ㅌ', 'ㅍ', 'ㅎ',
}

// 중성 (medial vowels)
var jungSung = [21]rune{
	'ㅏ', 'ㅐ', 'ㅑ', 'ㅒ', 'ㅓ', 'ㅔ', 'ㅕ', 'ㅖ', 'ㅗ', 'ㅘ',
	'ㅙ', 'ㅚ', 'ㅛ', 'ㅜ', 'ㅝ', 'ㅞ', 'ㅟ', 'ㅠ', 'ㅡ', 'ㅢ', 'ㅣ',
}

// 종성 (final consonants), index 0 means no final
var jongSung = [28]rune{
	0, 'ㄱ', 'ㄲ', 'ㄳ', 'ㄴ', 'ㄵ', 'ㄶ', 'ㄷ', 'ㄹ', 'ㄺ',
	'ㄻ', 'ㄼ', 'ㄽ', 'ㄾ', 'ㄿ', 'ㅀ', 'ㅁ', 'ㅂ', 'ㅄ', 'ㅅ',
	'ㅆ', 'ㅇ', 'ㅈ', 'ㅊ', 'ㅋ', 'ㅌ', 'ㅍ', 'ㅎ',
}

var (
	choIdx  = runeIndex(choSung[:])
	jungIdx = runeIndex(jungSung[:])
	jongIdx = runeIndex(jongSung[1:]) // jongIdx values are off by one
)

func runeIndex(rs []rune) map[rune]int {
	m := make(map[rune]int, len(rs))
	for i, r := range rs {
		m[r] = i
	}
	return m
}

// Double jamo collapse tables used during composition.
var doubleConsonant = map[string]rune{
	"ㄱㅅ": 'ㄳ', "ㄴㅈ": 'ㄵ', "ㄴㅎ": 'ㄶ', "ㄹㄱ": 'ㄺ', "ㄹㅁ": 'ㄻ',
	"ㄹㅂ": 'ㄼ', "ㄹㅅ": 'ㄽ', "ㄹㅌ": 'ㄾ', "ㄹㅎ": 'ㅀ', "ㅂㅅ": 'ㅄ',
}

var doubleVowel = map[string]rune{
	"ㅗㅏ": 'ㅘ', "ㅗㅐ": 'ㅙ', "ㅗㅣ": 'ㅚ', "ㅜㅓ": 'ㅝ', "ㅜㅔ": 'ㅞ',
	"ㅜㅣ": 'ㅟ', "ㅡㅣ": 'ㅢ',
}

// IsHangul reports whether r is a precomposed Hangul syllable.
func IsHangul(r rune) bool {
	return r >= hangulBase && r <= hangulLast
}

func isConsonant(r rune) bool {
	return r >= 'ㄱ' && r <= 'ㅎ'
}

func isVowel(r rune) bool {
	return r >= 'ㅏ' && r <= 'ㅣ'
}

// HangulToJaso decomposes every Hangul syllable of text into
// 초성+중성(+종성) followed by the terminator. Other runes pass through
// untouched, with no terminator around them. Running the result through
// the function again is a no-op.
func HangulToJaso(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) * 2)
	for _, r := range text {
		if !IsHangul(r) {
			sb.WriteRune(r)
			continue
		}
		c := r - hangulBase
		cho := c / (jungCount * jongCount)
		jung := (c / jongCount) % jungCount
		jong := c % jongCount
		sb.WriteRune(choSung[cho])
		sb.WriteRune(jungSung[jung])
		if jong != 0 {
			sb.WriteRune(jongSung[jong])
		}
		sb.WriteRune(Terminator)
	}
	return sb.String()
}

// collapseDoubles rewrites adjacent single jamo into their compound
// form (ㄹ+ㄱ -> ㄺ, ㅗ+ㅏ -> ㅘ). A consonant pair only merges inside
// a run of three or more consonants; a lone pair sits on a syllable
// boundary (final + next initial) and must stay split. Vowel pairs
// merge inside any run of two or more.
func collapseDoubles(jamos []rune) []rune {
	out := make([]rune, 0, len(jamos))
	for i := 0; i < len(jamos); {
		run := runLen(jamos, i, isConsonant)
		if run >= 3 {
			out = append(out, collapseRun(jamos[i:i+run], doubleConsonant, run-2)...)
			i += run
			continue
		}
		run = runLen(jamos, i, isVowel)
		if run >= 2 {
			out = append(out, collapseRun(jamos[i:i+run], doubleVowel, run-1)...)
			i += run
			continue
		}
		out = append(out, jamos[i])
		i++
	}
	return out
}

func runLen(jamos []rune, i int, class func(rune) bool) int {
	n := 0
	for i+n < len(jamos) && class(jamos[i+n]) {
		n++
	}
	return n
}

// collapseRun merges pairs left to right while the cursor stays below
// limit, leaving the run's tail untouched.
func collapseRun(run []rune, table map[string]rune, limit int) []rune {
	out := make([]rune, 0, len(run))
	i := 0
	for i < len(run) {
		if i < limit && i+1 < len(run) {
			if c, ok := table[string(run[i:i+2])]; ok {
				out = append(out, c)
				i += 2
				continue
			}
		}
		out = append(out, run[i])
		i++
	}
	return out
}

// JasoToHangul recomposes a jamo sequence into syllable blocks. Used for
// diagnostics only; terminators are ignored. The scan walks right to left
// anchored on medial vowels; a trailing consonant is claimed as 종성
// unless a previous (righter) composition already consumed it.
func JasoToHangul(jamos string) string {
	rs := collapseDoubles([]rune(strings.ReplaceAll(jamos, string(Terminator), "")))
	for i := len(rs) - 1; i > 0; i-- {
		ji, ok := jungIdx[rs[i]]
		if !ok {
			continue
		}
		ci, ok := choIdx[rs[i-1]]
		if !ok {
			continue
		}
		jong := 0
		span := 2
		if i+1 < len(rs) {
			if gi, ok := jongIdx[rs[i+1]]; ok {
				jong = gi + 1
				span = 3
			}
		}
		composed := rune(hangulBase + (ci*jungCount+ji)*jongCount + jong)
		tail := append([]rune{composed}, rs[i-1+span:]...)
		rs = append(rs[:i-1], tail...)
		i-- // the 초성 at i-1 is consumed as well
	}
	return string(rs)
}

// StripVowels removes medial vowels from a jamo string, keeping
// consonants and terminators. Used by the consonant-based subword
// variants.
func StripVowels(jamos string) string {
	var sb strings.Builder
	for _, r := range jamos {
		if isVowel(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
