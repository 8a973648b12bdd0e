package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		want string
	}{
		"empty":          {"", ""},
		"urls":           {"cek https://example.com/x dan www.foo.id ya", "cek dan ya"},
		"handles":        {"thanks @dev_team #mantap!!", "thanks"},
		"digits and emo": {"Aplikasi 10/10 👍 BAGUS", "aplikasi bagus"},
		"tabs":           {"  satu\tdua\n\ntiga  ", "satu dua tiga"},
		"non ascii":      {"café über", "caf ber"},
		"only noise":     {"1234 !!! 🙂", ""},
		"unicode handle": {"halo @andré semua", "halo semua"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Clean(tc.in))
		})
	}
}
