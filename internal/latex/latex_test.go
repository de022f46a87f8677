package latex

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Find the value of x.", false},
		{"", false},
		{"Solve x² + 1 = 0", true},
		{"Let θ be an angle", true},
		{"Show a ≤ b", true},
		{`Evaluate \frac{1}{2}`, true},
		{"Compute $x+y$", true},
		{"Wait…", false},
		{"Let 𝑥 be real", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Detect(tt.text); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"x² + y²", "{x}^{2} + {y}^{2}"},
		{"H₂O", "{H}_{2}O"},
		{"2πr", `2\pir`},
		{"a ≤ b", `a \leq b`},
		{"𝑥 − 1", "x - 1"},
		{"½", `\frac{1}{2}`},
		{"plain text", "plain text"},
		{"10³", "10^{3}"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Render(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
