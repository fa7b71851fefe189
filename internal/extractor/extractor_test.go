package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewsCSV = `text,rating
"Great product",5
"",3
"  ",1
"Could be better",2
`

func TestExtract_Reviews(t *testing.T) {
	result, err := Extract([]byte(reviewsCSV), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Great product", "Could be better"}, result.Messages)
	assert.Equal(t, 4, result.RowsRead)
	assert.Equal(t, 2, result.RowsSkipped())
	assert.Equal(t, 2, result.Skipped[SkipEmptyValue])
	assert.True(t, result.ColumnFound)
}

func TestExtract_RowPolicy(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		opts     Options
		expected []string
		skipped  map[SkipReason]int
	}{
		{
			name:     "values are trimmed",
			content:  "text\n  padded  \n\tTabbed\t\n",
			expected: []string{"padded", "Tabbed"},
			skipped:  map[SkipReason]int{},
		},
		{
			name:     "extra column row is skipped, neighbours survive",
			content:  "text,rating\nbefore,1\nbroken,2,extra\nafter,3\n",
			expected: []string{"before", "after"},
			skipped:  map[SkipReason]int{SkipMalformed: 1},
		},
		{
			name:     "missing column row is skipped",
			content:  "text,rating\nshort\nfine,4\n",
			expected: []string{"fine"},
			skipped:  map[SkipReason]int{SkipMalformed: 1},
		},
		{
			name:     "bare quote row is skipped",
			content:  "text,rating\nsays \"hi\" there,1\nok,2\n",
			expected: []string{"ok"},
			skipped:  map[SkipReason]int{SkipMalformed: 1},
		},
		{
			name:     "quoted delimiters and newlines are kept",
			content:  "rating,text\n5,\"Good, really\"\n4,\"two\nlines\"\n",
			expected: []string{"Good, really", "two\nlines"},
			skipped:  map[SkipReason]int{},
		},
		{
			name:     "escaped quotes",
			content:  "text\n\"She said \"\"wow\"\"\"\n",
			expected: []string{`She said "wow"`},
			skipped:  map[SkipReason]int{},
		},
		{
			name:     "blank lines are ignored",
			content:  "text\n\nfirst\n\n\nsecond\n",
			expected: []string{"first", "second"},
			skipped:  map[SkipReason]int{},
		},
		{
			name:     "CRLF line endings",
			content:  "text,rating\r\nwindows,1\r\n",
			expected: []string{"windows"},
			skipped:  map[SkipReason]int{},
		},
		{
			name:     "custom column",
			content:  "id,review\n1,nice\n2,\n",
			opts:     Options{Column: "review"},
			expected: []string{"nice"},
			skipped:  map[SkipReason]int{SkipEmptyValue: 1},
		},
		{
			name:     "custom delimiter",
			content:  "id;text\n1;semi\n",
			opts:     Options{Comma: ';'},
			expected: []string{"semi"},
			skipped:  map[SkipReason]int{},
		},
		{
			name:     "header names are trimmed",
			content:  "id, text \n1,spaced header\n",
			expected: []string{"spaced header"},
			skipped:  map[SkipReason]int{},
		},
		{
			name:     "duplicate header uses last occurrence",
			content:  "text,text\nfirst,second\n",
			expected: []string{"second"},
			skipped:  map[SkipReason]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Extract([]byte(tt.content), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Messages)
			for reason, count := range tt.skipped {
				assert.Equal(t, count, result.Skipped[reason], "skip reason %s", reason)
			}
			assert.Equal(t, len(tt.expected)+result.RowsSkipped(), result.RowsRead)
		})
	}
}

func TestExtract_EmptyResults(t *testing.T) {
	t.Run("header only", func(t *testing.T) {
		result, err := Extract([]byte("text,rating\n"), Options{})
		require.NoError(t, err)
		assert.Empty(t, result.Messages)
		assert.Zero(t, result.RowsRead)
		assert.True(t, result.ColumnFound)
	})

	t.Run("designated column absent", func(t *testing.T) {
		result, err := Extract([]byte("reviews,rating\ngreat,5\nbad,1\n"), Options{})
		require.NoError(t, err)
		assert.Empty(t, result.Messages)
		assert.False(t, result.ColumnFound)
		assert.Equal(t, 2, result.Skipped[SkipMissingField])
	})

	t.Run("all values blank", func(t *testing.T) {
		result, err := Extract([]byte("text\n\" \"\n\"\"\n"), Options{})
		require.NoError(t, err)
		assert.Empty(t, result.Messages)
		assert.Equal(t, 2, result.Skipped[SkipEmptyValue])
	})
}

func TestExtract_HardFailures(t *testing.T) {
	t.Run("empty content has no header", func(t *testing.T) {
		_, err := Extract(nil, Options{})
		assert.ErrorIs(t, err, ErrMissingHeader)
	})

	t.Run("unparsable header", func(t *testing.T) {
		_, err := Extract([]byte("te\"xt,rating\nvalue,1\n"), Options{})
		assert.ErrorIs(t, err, ErrMissingHeader)
	})

	t.Run("invalid UTF-8 is a decode error with offset", func(t *testing.T) {
		content := []byte("text\nok\nbad \xff byte\n")
		_, err := Extract(content, Options{})
		require.ErrorIs(t, err, ErrDecode)

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, 12, decodeErr.Offset)
	})
}

func TestExtract_Encodings(t *testing.T) {
	t.Run("UTF-8 BOM is stripped from the header", func(t *testing.T) {
		content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("text\nwith bom\n")...)
		result, err := Extract(content, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"with bom"}, result.Messages)
	})

	t.Run("UTF-16LE with BOM is transcoded", func(t *testing.T) {
		content := []byte{0xFF, 0xFE}
		for _, r := range "text\nhéllo\n" {
			content = append(content, byte(r), byte(r>>8))
		}
		result, err := Extract(content, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"héllo"}, result.Messages)
	})

	t.Run("multi-byte UTF-8 values pass through", func(t *testing.T) {
		result, err := Extract([]byte("text\nすばらしい 👍\n"), Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"すばらしい 👍"}, result.Messages)
	})
}

func TestExtract_Idempotent(t *testing.T) {
	content := []byte(reviewsCSV + "broken,1,2\n\"last one\",5\n")

	first, err := Extract(content, Options{})
	require.NoError(t, err)
	second, err := Extract(content, Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Great product", "Could be better", "last one"}, first.Messages)
}
