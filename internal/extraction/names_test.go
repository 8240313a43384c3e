package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSender(t *testing.T) {
	cases := []struct {
		raw, self, want string
	}{
		{"You", "", You},
		{"  you  ", "", You},
		{"You sent", "", You},
		{"You: ", "", You},
		{"You Jane Doe", "", "Jane Doe"},
		{"Youssef Amir", "", "Youssef Amir"},
		{"Yours Truly", "", "Yours Truly"},
		{"Ada  Lovelace", "ada lovelace", You},
		{"Jane Doe", "Ada Lovelace", "Jane Doe"},
		{"", "Ada", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeSender(tc.raw, tc.self), "raw=%q self=%q", tc.raw, tc.self)
	}
}

func TestValidListName(t *testing.T) {
	for name, want := range map[string]bool{
		"Jane":       true,
		"Al":         true,
		"J":          false,
		"":           false,
		"Messaging":  false,
		" UNKNOWN ":  false,
		"Bob, Alice": true,
	} {
		assert.Equal(t, want, validListName(name), name)
	}
}

func TestMatchName(t *testing.T) {
	assert.True(t, matchName("Jane Doe", "jane"))
	assert.True(t, matchName("Jane", "JANE DOE"))
	assert.True(t, matchName("Jane  Doe", "jane doe"))
	assert.False(t, matchName("Bob", "Jane"))
	assert.False(t, matchName("", "Jane"))
	assert.False(t, matchName("Jane", ""))
}

func TestTitleName(t *testing.T) {
	assert.Equal(t, "Jane Doe", titleName("Jane Doe | LinkedIn"))
	assert.Equal(t, "Jane Doe", titleName("(12) Jane Doe | Messaging | LinkedIn"))
	assert.Empty(t, titleName("Messaging | LinkedIn"))
	assert.Empty(t, titleName("LinkedIn"))
	assert.Empty(t, titleName(""))
}

func TestInferCounterparty(t *testing.T) {
	t.Run("OneDistinctName", func(t *testing.T) {
		assert.Equal(t, "Jane", inferCounterparty([]string{You, "Jane", "jane", You}))
	})
	t.Run("SeveralNamesInFirstAppearanceOrder", func(t *testing.T) {
		assert.Equal(t, "Carol, Bob", inferCounterparty([]string{"Carol", You, "Bob", "Carol"}))
	})
	t.Run("UnknownIsIgnored", func(t *testing.T) {
		assert.Equal(t, "Fallback", inferCounterparty([]string{Unknown, You}, "Fallback"))
	})
	t.Run("FallbacksInOrder", func(t *testing.T) {
		assert.Equal(t, "Title", inferCounterparty([]string{You}, "", "messaging", "Title", "Header"))
	})
	t.Run("Nothing", func(t *testing.T) {
		assert.Empty(t, inferCounterparty(nil, "", "x"))
	})
}

func TestReceiverFor(t *testing.T) {
	assert.Equal(t, "Jane", receiverFor(You, "Jane"))
	assert.Equal(t, You, receiverFor("Jane", "Jane"))
	assert.Equal(t, Unknown, receiverFor(You, ""))
	assert.Equal(t, You, receiverFor(Unknown, "Jane"))
}
