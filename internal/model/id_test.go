package model_test

import (
	"encoding/json"
	"testing"

	"github.com/roomchat/internal/model"
)

func TestCanonicalID(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"42", "42"},
		{42, "42"},
		{int64(42), "42"},
		{float64(42), "42"},
		{42.5, "42.5"},
		{json.Number("42"), "42"},
		{nil, ""},
		{"u-abc", "u-abc"},
	}
	for _, tc := range cases {
		if got := model.CanonicalID(tc.in); got != tc.want {
			t.Errorf("CanonicalID(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
