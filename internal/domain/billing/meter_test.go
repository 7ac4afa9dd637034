package billing

import "testing"

func TestCountWords(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int64
	}{
		{"empty", "", 0},
		{"whitespace only", "   \t\n ", 0},
		{"plain", "hello there how are you", 5},
		{"url excluded", "check https://example.com/page now", 2},
		{"www url excluded", "see www.example.com please", 2},
		{"bare emoji excluded", "nice 👍", 1},
		{"emoji only message", "😀 🎉 👍🏽", 0},
		{"zwj sequence excluded", "family 👩‍👩‍👧", 1},
		{"flag excluded", "go 🇰🇿 team", 2},
		{"emoji glued to word counts", "great👍job", 1},
		{"punctuation counts", "wait... really?!", 2},
		{"mixed", "read https://a.io 🙂 then reply", 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CountWords(tc.text); got != tc.want {
				t.Errorf("CountWords(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}

func TestBucketsFor(t *testing.T) {
	cases := []struct {
		words  int64
		bucket int
		want   int64
	}{
		{0, 50, 0},
		{1, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{11, 12, 1},
		{12, 12, 1},
		{13, 12, 2},
		{100, 25, 4},
		{5, 0, 0},
	}

	for _, tc := range cases {
		if got := BucketsFor(tc.words, tc.bucket); got != tc.want {
			t.Errorf("BucketsFor(%d, %d) = %d, want %d", tc.words, tc.bucket, got, tc.want)
		}
	}
}

func TestMinutesFor(t *testing.T) {
	cases := []struct {
		seconds int64
		want    int64
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{121, 3},
		{3600, 60},
	}

	for _, tc := range cases {
		if got := MinutesFor(tc.seconds); got != tc.want {
			t.Errorf("MinutesFor(%d) = %d, want %d", tc.seconds, got, tc.want)
		}
	}
}
