package util

import (
	"testing"
)

func TestContainsString(t *testing.T) {
	tests := []struct {
		name     string
		slice    []string
		item     string
		expected bool
	}{
		{
			name:     "item exists in slice",
			slice:    []string{"interviews:read", "interviews:write", "reports:read"},
			item:     "interviews:write",
			expected: true,
		},
		{
			name:     "item does not exist in slice",
			slice:    []string{"interviews:read", "reports:read"},
			item:     "admin",
			expected: false,
		},
		{
			name:     "empty slice",
			slice:    []string{},
			item:     "interviews:read",
			expected: false,
		},
		{
			name:     "empty item matches empty entry",
			slice:    []string{"", "interviews:read"},
			item:     "",
			expected: true,
		},
		{
			name:     "match is case sensitive",
			slice:    []string{"Loop", "Stop"},
			item:     "loop",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ContainsString(tt.slice, tt.item)
			if result != tt.expected {
				t.Errorf("ContainsString(%v, %q) = %v, want %v", tt.slice, tt.item, result, tt.expected)
			}
		})
	}
}

func TestParseNumericValue(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		expectedVal float64
		expectedOk  bool
	}{
		{
			name:        "bare score",
			response:    "4",
			expectedVal: 4.0,
			expectedOk:  true,
		},
		{
			name:        "bare float",
			response:    "3.5",
			expectedVal: 3.5,
			expectedOk:  true,
		},
		{
			name:        "equals pattern",
			response:    "The cache hit rate equals 0.92",
			expectedVal: 0.92,
			expectedOk:  true,
		},
		{
			name:        "is pattern",
			response:    "The score is 4",
			expectedVal: 4.0,
			expectedOk:  true,
		},
		{
			name:        "last numeric token wins",
			response:    "I estimated 100 writes then revised to 250",
			expectedVal: 250.0,
			expectedOk:  true,
		},
		{
			name:        "trailing punctuation stripped",
			response:    "The final score is: 5.",
			expectedVal: 5.0,
			expectedOk:  true,
		},
		{
			name:        "no numbers",
			response:    "the hypothesis does not hold",
			expectedVal: 0.0,
			expectedOk:  false,
		},
		{
			name:        "empty string",
			response:    "",
			expectedVal: 0.0,
			expectedOk:  false,
		},
		{
			name:        "whitespace only",
			response:    "   ",
			expectedVal: 0.0,
			expectedOk:  false,
		},
		{
			name:        "negative value",
			response:    "The margin is -5 percent",
			expectedVal: -5.0,
			expectedOk:  true,
		},
		{
			name:        "equals with punctuation",
			response:    "QPS equals 1200!",
			expectedVal: 1200.0,
			expectedOk:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := ParseNumericValue(tt.response)
			if ok != tt.expectedOk {
				t.Errorf("ParseNumericValue(%q) ok = %v, want %v", tt.response, ok, tt.expectedOk)
			}
			if ok && val != tt.expectedVal {
				t.Errorf("ParseNumericValue(%q) val = %v, want %v", tt.response, val, tt.expectedVal)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		maxLen        int
		preserveWords bool
		expected      string
	}{
		{
			name:          "no truncation needed",
			input:         "short answer",
			maxLen:        20,
			preserveWords: false,
			expected:      "short answer",
		},
		{
			name:          "simple truncation",
			input:         "Shard the database by user identifier",
			maxLen:        20,
			preserveWords: false,
			expected:      "Shard the databas...",
		},
		{
			name:          "word-preserving truncation",
			input:         "Shard the database by user identifier",
			maxLen:        20,
			preserveWords: true,
			expected:      "Shard the...",
		},
		{
			name:          "maxLen zero",
			input:         "any text",
			maxLen:        0,
			preserveWords: false,
			expected:      "",
		},
		{
			name:          "maxLen smaller than ellipsis",
			input:         "text",
			maxLen:        2,
			preserveWords: false,
			expected:      "..",
		},
		{
			name:          "exact length match",
			input:         "exact",
			maxLen:        5,
			preserveWords: false,
			expected:      "exact",
		},
		{
			name:          "preserve words but no space found",
			input:         "verylonghypothesiswithoutspaces",
			maxLen:        15,
			preserveWords: true,
			expected:      "verylonghypo...",
		},
		{
			name:          "newline counts as a boundary",
			input:         "First line\nSecond line that is very long",
			maxLen:        20,
			preserveWords: true,
			expected:      "First line...",
		},
		{
			name:          "empty string",
			input:         "",
			maxLen:        10,
			preserveWords: false,
			expected:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TruncateString(tt.input, tt.maxLen, tt.preserveWords)
			if result != tt.expected {
				t.Errorf("TruncateString(%q, %d, %v) = %q, want %q", tt.input, tt.maxLen, tt.preserveWords, result, tt.expected)
			}
		})
	}
}

// TruncateString must cut on rune boundaries, never mid-sequence.
func TestTruncateStringUTF8Safety(t *testing.T) {
	inputs := []string{
		"查询中文数据库中的用户信息",
		"データベース システム から ユーザー 情報",
		"Latency p99 👋 budget 🌍 check 🎉 done",
		"Привет мир",
	}

	for _, input := range inputs {
		for maxLen := 1; maxLen < len(input)+5; maxLen++ {
			result := TruncateString(input, maxLen, false)

			runes := []rune(result)
			if string(runes) != result {
				t.Errorf("TruncateString(%q, %d) produced invalid UTF-8: %q", input, maxLen, result)
			}
			if maxLen > 0 && len(runes) > maxLen {
				t.Errorf("TruncateString(%q, %d) length = %d runes, want <= %d", input, maxLen, len(runes), maxLen)
			}
		}
	}

	inputRunes := []rune(inputs[0])
	truncated := TruncateString(inputs[0], 10, false)
	if len(inputRunes) > 10 && truncated[len(truncated)-3:] != "..." {
		t.Errorf("TruncateString should end with ellipsis when it cuts, got %q", truncated)
	}
}

func TestTruncateStringWordPreserveUTF8(t *testing.T) {
	input := "这是 一个 测试 字符串 包含 中文 空格"
	maxLen := 15

	withWords := TruncateString(input, maxLen, true)
	withoutWords := TruncateString(input, maxLen, false)

	for name, result := range map[string]string{"preserve": withWords, "plain": withoutWords} {
		if string([]rune(result)) != result {
			t.Errorf("%s result is invalid UTF-8: %q", name, result)
		}
		if len([]rune(result)) > maxLen {
			t.Errorf("%s result exceeded %d runes: %q", name, maxLen, result)
		}
	}
}
