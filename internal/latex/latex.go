// Package latex detects math in extracted text and rewrites Unicode math
// symbols to LaTeX commands.
package latex

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var symbols = map[rune]string{
	'∑': `\sum`, '∞': `\infty`, '→': `\to`, '±': `\pm`, '×': `\times`, '÷': `\div`,
	'≠': `\neq`, '≤': `\leq`, '≥': `\geq`, '√': `\sqrt{}`, '∫': `\int`, '∂': `\partial`,
	'∈': `\in`, '∩': `\cap`, '∪': `\cup`, '∅': `\emptyset`, '∃': `\exists`, '∀': `\forall`,
	'∇': `\nabla`, '≈': `\approx`, '≅': `\cong`, '≡': `\equiv`, '∝': `\propto`, '∠': `\angle`,
	'∴': `\therefore`, '∵': `\because`, '∏': `\prod`, '∐': `\coprod`, '∘': `\circ`,
	'∙': `\cdot`, '⋅': `\cdot`, '∗': `\ast`, '⋆': `\star`, '∆': `\Delta`,
	'−': `-`, '…': `\ldots`,
	'½': `\frac{1}{2}`, '⅓': `\frac{1}{3}`, '⅔': `\frac{2}{3}`, '¼': `\frac{1}{4}`, '¾': `\frac{3}{4}`, '⅛': `\frac{1}{8}`,
}

var greek = map[rune]string{
	'α': `\alpha`, 'β': `\beta`, 'γ': `\gamma`, 'δ': `\delta`, 'ε': `\epsilon`, 'ζ': `\zeta`,
	'η': `\eta`, 'θ': `\theta`, 'κ': `\kappa`, 'λ': `\lambda`, 'μ': `\mu`, 'ν': `\nu`,
	'ξ': `\xi`, 'π': `\pi`, 'ρ': `\rho`, 'σ': `\sigma`, 'τ': `\tau`, 'φ': `\phi`,
	'χ': `\chi`, 'ψ': `\psi`, 'ω': `\omega`,
	'Γ': `\Gamma`, 'Δ': `\Delta`, 'Θ': `\Theta`, 'Λ': `\Lambda`, 'Ξ': `\Xi`, 'Π': `\Pi`,
	'Σ': `\Sigma`, 'Φ': `\Phi`, 'Ψ': `\Psi`, 'Ω': `\Omega`,
}

var subscripts = map[rune]rune{
	'₀': '0', '₁': '1', '₂': '2', '₃': '3', '₄': '4', '₅': '5', '₆': '6', '₇': '7', '₈': '8', '₉': '9',
	'₊': '+', '₋': '-', '₌': '=', '₍': '(', '₎': ')',
	'ₐ': 'a', 'ₑ': 'e', 'ₒ': 'o', 'ₓ': 'x', 'ₕ': 'h', 'ₖ': 'k', 'ₗ': 'l', 'ₘ': 'm', 'ₙ': 'n',
	'ₚ': 'p', 'ₛ': 's', 'ₜ': 't', 'ᵢ': 'i', 'ᵣ': 'r', 'ᵤ': 'u', 'ᵥ': 'v',
}

var superscripts = map[rune]rune{
	'⁰': '0', '¹': '1', '²': '2', '³': '3', '⁴': '4', '⁵': '5', '⁶': '6', '⁷': '7', '⁸': '8', '⁹': '9',
	'⁺': '+', '⁻': '-', '⁼': '=', '⁽': '(', '⁾': ')',
	'ᵃ': 'a', 'ᵇ': 'b', 'ᶜ': 'c', 'ᵈ': 'd', 'ᵉ': 'e', 'ᶠ': 'f', 'ᵍ': 'g', 'ʰ': 'h', 'ⁱ': 'i',
	'ʲ': 'j', 'ᵏ': 'k', 'ˡ': 'l', 'ᵐ': 'm', 'ⁿ': 'n', 'ᵒ': 'o', 'ᵖ': 'p', 'ʳ': 'r', 'ˢ': 's',
	'ᵗ': 't', 'ᵘ': 'u', 'ᵛ': 'v', 'ʷ': 'w', 'ˣ': 'x', 'ʸ': 'y', 'ᶻ': 'z',
}

var markup = regexp.MustCompile(`\\[a-zA-Z]+|\$[^$]+\$`)

// Detect reports whether text carries LaTeX markup or Unicode math.
func Detect(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		if isMathAlnum(r) {
			return true
		}
		if _, ok := symbols[r]; ok && r != '…' {
			return true
		}
		if _, ok := greek[r]; ok {
			return true
		}
		if _, ok := subscripts[r]; ok {
			return true
		}
		if _, ok := superscripts[r]; ok {
			return true
		}
	}
	return markup.MatchString(text)
}

// Render rewrites Unicode math to LaTeX. Text without math is returned as is.
func Render(text string) string {
	runes := []rune(text)
	var sb strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if unicode.IsLetter(r) && r < 0x80 && i+1 < len(runes) {
			if script, n := run(runes[i+1:], subscripts); n > 0 {
				sb.WriteString("{" + string(r) + "}_{" + script + "}")
				i += n
				continue
			}
			if script, n := run(runes[i+1:], superscripts); n > 0 {
				sb.WriteString("{" + string(r) + "}^{" + script + "}")
				i += n
				continue
			}
		}
		switch {
		case isMathAlnum(r):
			sb.WriteString(norm.NFKC.String(string(r)))
		case greek[r] != "":
			sb.WriteString(greek[r])
		case symbols[r] != "":
			sb.WriteString(symbols[r])
		default:
			if s, ok := subscripts[r]; ok {
				sb.WriteString("_{" + string(s) + "}")
			} else if s, ok := superscripts[r]; ok {
				sb.WriteString("^{" + string(s) + "}")
			} else {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

func run(runes []rune, table map[rune]rune) (string, int) {
	var sb strings.Builder
	n := 0
	for _, r := range runes {
		v, ok := table[r]
		if !ok {
			break
		}
		sb.WriteRune(v)
		n++
	}
	return sb.String(), n
}

// isMathAlnum covers the Mathematical Alphanumeric Symbols block.
func isMathAlnum(r rune) bool { return r >= 0x1D400 && r <= 0x1D7FF }
