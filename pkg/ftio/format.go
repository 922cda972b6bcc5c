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

package ftio

import "strconv"

// FormatFloat renders a float the way the C++ tool prints vectors:
// %g with 5 significant digits and no trailing zeros.
func FormatFloat(v float32) string {
	return FormatFloatPrec(v, 5)
}

func FormatFloatPrec(v float32, prec int) string {
	s := strconv.FormatFloat(float64(v), 'g', prec, 32)
	return trimTrailingZeros(s)
}

func trimTrailingZeros(s string) string {
	dot := -1
	exp := len(s)
	for i, c := range s {
		switch c {
		case '.':
			dot = i
		case 'e', 'E':
			exp = i
		}
	}
	if dot < 0 || dot >= exp {
		return s
	}
	mant := s[:exp]
	end := exp
	for end > dot+1 && mant[end-1] == '0' {
		end--
	}
	if end == dot+1 {
		end = dot
	}
	return s[:end] + s[exp:]
}
