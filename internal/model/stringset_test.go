package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStringSet_Normalizes(t *testing.T) {
	t.Parallel()

	s := NewStringSet("HE", " AT8 ", "", "HE", "Tau")
	assert.Equal(t, StringSet{"AT8", "HE", "Tau"}, s)
}

func TestParseStringSet_CommaSeparated(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StringSet{"AT8", "HE"}, ParseStringSet("HE, AT8"))
	assert.Equal(t, StringSet{"AT8"}, ParseStringSet("AT8"))
	assert.True(t, ParseStringSet(" , ").Empty())
}

func TestStringSet_UnmarshalShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want StringSet
	}{
		{"array", `["HE","AT8"]`, StringSet{"AT8", "HE"}},
		{"bare string", `"AT8"`, StringSet{"AT8"}},
		{"comma string", `"HE,AT8"`, StringSet{"AT8", "HE"}},
		{"null", `null`, nil},
		{"empty array", `[]`, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var s StringSet
			require.NoError(t, json.Unmarshal([]byte(tc.in), &s))
			assert.Equal(t, tc.want, s)
		})
	}

	var s StringSet
	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}

func TestStringSet_MarshalAlwaysArray(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(StringSet(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	data, err = json.Marshal(StringSet{"AT8"})
	require.NoError(t, err)
	assert.Equal(t, `["AT8"]`, string(data))
}
