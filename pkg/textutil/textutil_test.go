package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestConvertCase(t *testing.T) {
	tests := []struct {
		input    string
		mode     CaseMode
		expected string
	}{
		{"hello world", CaseUpper, "HELLO WORLD"},
		{"Hello World", CaseLower, "hello world"},
		{"hello wide world", CaseTitle, "Hello Wide World"},
		{"HTTPServer id", CaseSnake, "http_server_id"},
		{"userName", CaseKebab, "user-name"},
		{"user-name_here", CaseCamel, "userNameHere"},
		{"user name", CasePascal, "UserName"},
		{"maxRetryCount", CaseConstant, "MAX_RETRY_COUNT"},
		{"version2Beta", CaseSnake, "version2_beta"},
		{"", CaseSnake, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+tt.input, func(t *testing.T) {
			got, err := ConvertCase(tt.input, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := ConvertCase("x", "sarcastic")
	assert.ErrorContains(t, err, "unknown case mode")
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"HTTP", "Server"}, SplitWords("HTTPServer"))
	assert.Equal(t, []string{"parse", "JSON", "Body"}, SplitWords("parseJSONBody"))
	assert.Equal(t, []string{"a", "b", "c"}, SplitWords("  a--b__c  "))
	assert.Nil(t, SplitWords("--"))
}

func TestBase64(t *testing.T) {
	data := []byte("hi?>")

	std := Base64Encode(data, false)
	assert.Equal(t, "aGk/Pg==", std)
	url := Base64Encode(data, true)
	assert.Equal(t, "aGk_Pg==", url)

	decoded, err := Base64Decode("aGk/Pg", false)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	decoded, err = Base64Decode("aGk_\nPg==", true)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	_, err = Base64Decode("not base64!", false)
	assert.ErrorContains(t, err, "invalid base64")
}

func TestBase64RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(rt, "data")
		urlSafe := rapid.Bool().Draw(rt, "urlSafe")

		out, err := Base64Decode(Base64Encode(data, urlSafe), urlSafe)
		if err != nil {
			rt.Fatalf("decode failed: %v", err)
		}
		if string(out) != string(data) {
			rt.Fatalf("round trip mismatch: %q != %q", out, data)
		}
	})
}

func TestExtract(t *testing.T) {
	text := `Contact alice@example.com or bob.smith@mail.co.uk. Again alice@example.com.
See https://go.dev/doc, and (https://example.com/x). Server 10.0.0.1 and 999.1.1.1.
Call +1 (555) 123-4567. Loving #golang and #go! cc @alice, not me@x.com. Totals 42 and -3.5`

	tests := []struct {
		kind     ExtractKind
		expected []string
	}{
		{ExtractEmails, []string{"alice@example.com", "bob.smith@mail.co.uk", "me@x.com"}},
		{ExtractURLs, []string{"https://go.dev/doc", "https://example.com/x"}},
		{ExtractIPv4, []string{"10.0.0.1"}},
		{ExtractPhone, []string{"+1 (555) 123-4567"}},
		{ExtractHashtags, []string{"#golang", "#go"}},
		{ExtractMentions, []string{"@alice"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := Extract(text, tt.kind, "")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("numbers", func(t *testing.T) {
		got, err := Extract("a 1 b 2.5 c -3 d 1", ExtractNumbers, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2.5", "-3"}, got)
	})

	t.Run("custom regex uses first group", func(t *testing.T) {
		got, err := Extract("id=7 id=9 id=7", ExtractRegex, `id=(\d+)`)
		require.NoError(t, err)
		assert.Equal(t, []string{"7", "9"}, got)
	})

	t.Run("no matches is empty not nil", func(t *testing.T) {
		got, err := Extract("nothing here", ExtractEmails, "")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := Extract("x", ExtractRegex, "")
		assert.ErrorContains(t, err, "requires a pattern")
		_, err = Extract("x", ExtractRegex, "(")
		assert.ErrorContains(t, err, "invalid pattern")
		_, err = Extract("x", "colors", "")
		assert.ErrorContains(t, err, "unknown extraction kind")
	})
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"A Cat, in Space!", "a-cat-in-space"},
		{"  --Hello---World--  ", "hello-world"},
		{"Café 2026", "caf-2026"},
		{"!!!", "image"},
		{"", "image"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.input))
		})
	}

	assert.Equal(t, "a-very-long", SlugifyMax("A very long prompt", 11))
	assert.Len(t, SlugifyMax(strings.Repeat("word ", 20), 40), 40)
	assert.Equal(t, "short", SlugifyMax("short", 40))
}

func TestStats(t *testing.T) {
	assert.Equal(t, TextStats{}, Stats(""))
	assert.Equal(t, TextStats{Lines: 2, Words: 4, Chars: 24, Bytes: 24}, Stats("hello world\nsecond line\n"))
	assert.Equal(t, TextStats{Lines: 1, Words: 1, Chars: 4, Bytes: 5}, Stats("café"))
}

func TestDiff(t *testing.T) {
	assert.Empty(t, Diff("same\n", "same\n"))

	d := Diff("one\ntwo\n", "one\nthree\n", "old.txt", "new.txt")
	assert.Contains(t, d, "--- old.txt")
	assert.Contains(t, d, "+++ new.txt")
	assert.Contains(t, d, "-two")
	assert.Contains(t, d, "+three")

	assert.Contains(t, Diff("x\n", "y\n"), "--- a")
}
