package voice

import "testing"

func TestSanitizeSpeechText(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		marker string
		want   string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure 😊 **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```bash\nnpm run dev\n```\nThen run `make test` ✅",
			want: "Then run",
		},
		{
			name: "keeps annotation markers",
			in:   "--she said warmly:-- I missed you!",
			want: "--she said warmly:-- I missed you!",
		},
		{
			name:   "keeps symbol markers",
			in:     "**whispering** come *closer* 😊",
			marker: "**",
			want:   "**whispering** come closer",
		},
		{
			name: "only markers left",
			in:   "-- 🎉 --",
			want: "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := sanitizeSpeechText(tc.in, tc.marker)
			if got != tc.want {
				t.Fatalf("sanitizeSpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripAnnotations(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"single region", "--he sighed:-- Fine, let's go.", "Fine, let's go."},
		{"two regions", "Oh --gasp-- really? --laughing-- Wow.", "Oh really? Wow."},
		{"unpaired marker kept", "Well -- I guess so.", "Well -- I guess so."},
		{"no markers", "Plain text.", "Plain text."},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := stripAnnotations(tc.in, ""); got != tc.want {
				t.Fatalf("stripAnnotations(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
