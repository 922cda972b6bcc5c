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

package jaso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHangulToJaso(t *testing.T) {
	assert.Equal(t, "ㄷㅐᴥㅎㅏㄴᴥ", HangulToJaso("대한"))
	assert.Equal(t, "ㅁㅣㄴᴥㄱㅜㄱᴥ", HangulToJaso("민국"))
}

func TestHangulToJasoPassthrough(t *testing.T) {
	// non-Hangul survives untouched, with no terminators around it
	assert.Equal(t, "abc 123!", HangulToJaso("abc 123!"))
	assert.Equal(t, "ㅇㅣᴥㄱㅓㅅᴥ, ok", HangulToJaso("이것, ok"))
}

func TestHangulToJasoIdempotent(t *testing.T) {
	once := HangulToJaso("이명박은 대통령이다.")
	assert.Equal(t, once, HangulToJaso(once))
}

func TestHangulToJasoNoFinal(t *testing.T) {
	// syllables without 종성 still get the terminator
	assert.Equal(t, "ㄱㅏᴥ", HangulToJaso("가"))
}

func TestJasoToHangulRoundTrip(t *testing.T) {
	for _, text := range []string{
		"대한",
		"대한민국",
		"안녕",
		"이명박은 대통령이다.",
		"값", // compound 종성 ㅄ
		"의자", // compound 중성 ㅢ
	} {
		require.Equal(t, text, JasoToHangul(HangulToJaso(text)), "round trip of %q", text)
	}
}

func TestReplaceDoubleJamo(t *testing.T) {
	// ㄹ+ㄱ inside a three-consonant run collapses into ㄺ
	assert.Equal(t, "삵ㅅ", JasoToHangul("ㅅㅏㄹㄱㅅ"))
	// a lone consonant pair is a syllable boundary, not a compound final
	assert.Equal(t, "막살", JasoToHangul(HangulToJaso("막살")))
	// ㅗ+ㅏ collapses into ㅘ
	assert.Equal(t, "과", JasoToHangul("ㄱㅗㅏ"))
}

func TestStripVowels(t *testing.T) {
	assert.Equal(t, "ㄷᴥㅎㄴᴥ", StripVowels("ㄷㅐᴥㅎㅏㄴᴥ"))
	assert.Equal(t, "abc", StripVowels("abc"))
}

func TestIsHangul(t *testing.T) {
	assert.True(t, IsHangul('가'))
	assert.True(t, IsHangul('힣'))
	assert.False(t, IsHangul('ㄱ'))
	assert.False(t, IsHangul('a'))
}
