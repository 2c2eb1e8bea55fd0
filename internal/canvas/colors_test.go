package canvas

import "testing"

func TestNormalizeHexColor(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"#aabbcc", "#AABBCC"},
		{"aabbcc", "#AABBCC"},
		{"#ABC", "#AABBCC"},
		{"abc", "#AABBCC"},
		{"#FF0000", "#FF0000"},
	}
	for _, c := range cases {
		if got := NormalizeHexColor(c.in); got != c.want {
			t.Fatalf("NormalizeHexColor(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsValidHexColor(t *testing.T) {
	valid := []string{"#FFFFFF", "ffffff", "#abc", "123", "#1A2b3C"}
	for _, v := range valid {
		if !IsValidHexColor(v) {
			t.Fatalf("IsValidHexColor(%q) = false, want true", v)
		}
	}
	invalid := []string{"", "zzz", "#12", "#12345", "#1234567", "red", "# ABC"}
	for _, v := range invalid {
		if IsValidHexColor(v) {
			t.Fatalf("IsValidHexColor(%q) = true, want false", v)
		}
	}
}
